package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/brightwallet/sendcore/internal/config"
	"github.com/brightwallet/sendcore/internal/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sendcore",
	Short: "Bitcoin send-flow fee negotiation",
	Long: `sendcore drives the fee-negotiation side of a Bitcoin wallet send flow:
fee method and slider selection against live estimates, RBF, confirmation
gating and broadcast, plus Lightning channel capacity summaries.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("error loading configuration: %v", err)
		}
		if err := logger.Init(cfg.LogFile()); err != nil {
			log.Printf("Error initializing log file: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(feesCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
