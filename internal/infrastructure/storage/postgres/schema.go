package postgres

import (
	"context"
	"fmt"
)

// schemaStatements create the document, checkpoint and idempotency tables. They are idempotent.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS document_seq`,
	`CREATE TABLE IF NOT EXISTS documents (
		collection  TEXT        NOT NULL,
		id          TEXT        NOT NULL,
		rev         TEXT        NOT NULL,
		deleted     BOOLEAN     NOT NULL DEFAULT FALSE,
		body        JSONB,
		history     JSONB       NOT NULL DEFAULT '[]',
		conflicts   JSONB       NOT NULL DEFAULT '[]',
		seq         BIGINT      NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_seq_idx ON documents (collection, seq)`,
	`CREATE TABLE IF NOT EXISTS replication_checkpoints (
		collection  TEXT   NOT NULL,
		key         TEXT   NOT NULL,
		seq         BIGINT NOT NULL,
		PRIMARY KEY (collection, key)
	)`,
	`CREATE TABLE IF NOT EXISTS sys_idempotency (
		idempotency_key       TEXT        PRIMARY KEY,
		caller                TEXT        NOT NULL DEFAULT '',
		operation             TEXT        NOT NULL,
		status                TEXT        NOT NULL,
		request_hash          TEXT        NOT NULL,
		response              BYTEA,
		response_status       INTEGER     NOT NULL DEFAULT 0,
		response_content_type TEXT        NOT NULL DEFAULT '',
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL,
		expires_at            TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
