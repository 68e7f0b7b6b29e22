package db

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner runs a function inside a database transaction. *Client satisfies
// it; tests can substitute a runner over any gorm connection.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormRunner struct {
	conn *gorm.DB
}

// NewTxRunner wraps a raw gorm connection as a TxRunner.
func NewTxRunner(conn *gorm.DB) TxRunner {
	return &gormRunner{conn: conn}
}

func (r *gormRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
