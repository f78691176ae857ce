// Package walletstatedb persists wallet-side records of the send flow in a
// local SQLite database.
package walletstatedb

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the wallet state database instance.
var DB *gorm.DB

// InitDB opens (or creates) the SQLite database at dbPath and migrates the
// schema.
func InitDB(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %v", err)
		}
	}

	// Keep GORM quiet outside of real errors.
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}

	if err := DB.AutoMigrate(&SentTransaction{}, &DraftAudit{}); err != nil {
		return fmt.Errorf("failed to migrate database: %v", err)
	}
	return nil
}

// SaveSentTransaction stores a broadcast record. Duplicate txids are
// ignored so a retried save stays idempotent.
func SaveSentTransaction(tx *SentTransaction) error {
	var existing SentTransaction
	err := DB.Where("tx_id = ?", tx.TxID).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("failed to check for existing transaction: %v", err)
	}
	if err := DB.Create(tx).Error; err != nil {
		return fmt.Errorf("failed to save sent transaction: %v", err)
	}
	return nil
}

// ListSentTransactions returns broadcast records, most recent first.
func ListSentTransactions(limit int) ([]SentTransaction, error) {
	var txs []SentTransaction
	q := DB.Order("date desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sent transactions: %v", err)
	}
	return txs, nil
}

// SaveDraftAudit stores a workflow outcome row.
func SaveDraftAudit(audit *DraftAudit) error {
	if err := DB.Create(audit).Error; err != nil {
		return fmt.Errorf("failed to save draft audit: %v", err)
	}
	return nil
}
