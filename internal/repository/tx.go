package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/access"
)

// TxManager runs a unit of work inside one database transaction.
type TxManager interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTxManager struct {
	db *gorm.DB
}

// NewTxManager wraps db for transactional work.
func NewTxManager(db *gorm.DB) TxManager {
	return &gormTxManager{db: db}
}

// Transaction binds the caller's access context to the session and runs fn.
// Any error returned by fn rolls the transaction back.
func (m *gormTxManager) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := BindSession(ctx, tx); err != nil {
			return err
		}
		return fn(tx)
	})
}

// BindSession applies the access context as transaction-local settings so
// row-level policies in Postgres can read them. Settings end with the transaction.
func BindSession(ctx context.Context, tx *gorm.DB) error {
	if tx == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}

	ac, ok := access.FromContext(ctx)
	if !ok {
		return nil
	}

	return tx.Exec(
		"SELECT set_config('app.user_id', ?, true), set_config('app.role', ?, true), set_config('app.cohort', ?, true), set_config('app.school', ?, true)",
		strconv.FormatUint(uint64(ac.UserID), 10),
		strconv.Itoa(int(ac.Role)),
		ac.Cohort,
		ac.School,
	).Error
}

// IsUniqueViolation reports whether err comes from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}

func dbOrTx(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}
