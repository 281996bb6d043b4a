package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chatcompose/internal/domain"
	"chatcompose/internal/domain/repositories"
	chatRepo "chatcompose/internal/domain/repositories/chat"
)

//go:embed schema.sql
var schemaSQL string

// DB is a local SQLite database holding topics, messages and blocks.
// It is the default store for a single-user client; PostgreSQL serves the
// multi-user server deployment.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the database file if needed and applies the schema.
func Open(path string, logger *slog.Logger) (*DB, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	dsn := p + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; transactions and plain statements share the connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Store wires the SQLite repositories and transaction manager.
func (d *DB) Store() *chatRepo.Store {
	return &chatRepo.Store{
		Tx:       &TransactionManager{db: d.db, logger: d.logger},
		Blocks:   &BlockRepository{db: d.db},
		Messages: &MessageRepository{db: d.db},
		Topics:   &TopicRepository{db: d.db},
	}
}

// executor is satisfied by *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txContextKey struct{}

func getExecutor(ctx context.Context, db *sql.DB) executor {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db
}

// TransactionManager implements repositories.TransactionManager on SQLite
type TransactionManager struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ repositories.TransactionManager = (*TransactionManager)(nil)

// ExecTx runs fn in a transaction, reusing one already in ctx.
func (tm *TransactionManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok && tx != nil {
		return fn(ctx)
	}

	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			tm.logger.Warn("rollback failed", "error", err)
		}
	}()

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func translateError(err error, op, resource, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Resource: resource, ID: id}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &domain.ConflictError{
			Message:      fmt.Sprintf("%s %s already exists", resource, id),
			ResourceType: resource,
			ResourceID:   id,
		}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%s %s references a missing row: %w", resource, id, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMs(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullableUnixMs(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
