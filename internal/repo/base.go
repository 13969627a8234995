package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the gorm repositories. It carries the connection or the
// open transaction a repository was bound to.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the bound connection scoped to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Conn prefers an explicit transaction handle over the bound connection.
func (b Base) Conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return b.DB(ctx)
	}
	if ctx == nil {
		return tx
	}
	return tx.WithContext(ctx)
}

// Bind returns a copy of b running against tx. A nil tx keeps the current connection.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// Chunk calls fn for consecutive slices of keys no longer than size, keeping
// IN clauses under the driver's parameter limit.
func Chunk[T any](keys []T, size int, fn func([]T) error) error {
	if size <= 0 {
		size = len(keys)
	}
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		if err := fn(keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}
