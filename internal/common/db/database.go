package db

import "context"

// Database is the storage handle shared by repositories.
// Implementations own their connection pool.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction; fn's error rolls it back.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	// BeginTx starts a transaction the caller must finish.
	BeginTx(ctx context.Context) (Transaction, error)
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is a Querier bound to an open transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Scanner is satisfied by both Row and Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// Rows iterates over a multi-row result.
type Rows interface {
	Scanner
	Next() bool
	Close() error
	Err() error
}

// Row is a single-row result. Scan reports sql.ErrNoRows (wrapped) when empty.
type Row interface {
	Scanner
}

// Result reports the outcome of Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
