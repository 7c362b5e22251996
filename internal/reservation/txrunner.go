package reservation

import (
	"context"

	"gorm.io/gorm"
)

type gormTxRunner struct {
	db *gorm.DB
}

// NewTxRunner wraps a gorm handle as a TxRunner.
func NewTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
