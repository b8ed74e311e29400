package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "tourops/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// PostgresRunner runs callbacks inside a database/sql transaction. Any error
// returned by the callback, or a failed commit, rolls the whole unit back.
type PostgresRunner struct {
	db      *sql.DB
	timeout time.Duration
	opts    *sql.TxOptions
}

// PostgresOption configures a PostgresRunner.
type PostgresOption func(*PostgresRunner)

// WithTimeout bounds transactions started without a caller deadline.
func WithTimeout(d time.Duration) PostgresOption {
	return func(r *PostgresRunner) {
		r.timeout = d
	}
}

// WithIsolation sets the isolation level for every transaction.
func WithIsolation(level sql.IsolationLevel) PostgresOption {
	return func(r *PostgresRunner) {
		r.opts = &sql.TxOptions{Isolation: level}
	}
}

func NewPostgresRunner(db *sql.DB, opts ...PostgresOption) *PostgresRunner {
	r := &PostgresRunner{db: db, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *PostgresRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	// Nested calls join the outer transaction.
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, r.opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}
