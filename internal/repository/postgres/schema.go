package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			last_message_time TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, tables.Topics),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			topic_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			block_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
			model TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, tables.Messages, tables.Topics),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_topic_idx ON %s (topic_id, created_at)`, tables.Messages, tables.Messages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			block_type TEXT NOT NULL,
			content JSONB,
			status TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, tables.Blocks, tables.Messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_message_idx ON %s (message_id, created_at)`, tables.Blocks, tables.Blocks),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
