package logger

import (
	"io"
	"log"
	"os"
)

var logFile *os.File

// Init opens (or creates) the log file and tees the default logger into it,
// so engine-path log.Printf traces land on stderr and in the file alike.
func Init(logFilePath string) error {
	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	return nil
}

// Cleanup closes the log file when the application is done with it.
func Cleanup() {
	if logFile != nil {
		logFile.Close()
	}
}
