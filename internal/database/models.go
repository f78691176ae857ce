package walletstatedb

import (
	"time"

	"gorm.io/gorm"
)

// SentTransaction records a successfully broadcast send.
type SentTransaction struct {
	gorm.Model
	TxID      string `gorm:"uniqueIndex"`
	Address   string `gorm:"index"`
	AmountSat int64
	FeeSat    int64
	FeeRate   float64 // sat/vB
	Method    int     // fee method engine tag
	SliderPos int
	RBF       bool
	Target    string
	Date      time.Time `gorm:"index"`
}

// DraftAudit records what the user confirmed or abandoned, for support and
// debugging. One row per workflow outcome.
type DraftAudit struct {
	gorm.Model
	Address   string
	AmountSat int64
	FeeSat    int64
	FeeRate   float64
	Method    int
	SliderPos int
	RBF       bool
	Outcome   string `gorm:"index"` // sent, cancelled, error
	Warning   string
}
