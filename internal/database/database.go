// Package database owns the process-wide pgx pool and schema setup.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// Connect creates the connection pool shared by the store and the job queue.
// One pool per worker process; everything binds to it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return pool, nil
}

// Migrate applies the application schema and River's queue tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrations: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS media (
	id            text PRIMARY KEY,
	media_type    text NOT NULL DEFAULT 'IMAGE',
	media_url     text,
	caption       text,
	media_context text,
	permalink     text,
	username      text
);

CREATE TABLE IF NOT EXISTS comments (
	id              text PRIMARY KEY,
	media_id        text NOT NULL,
	parent_id       text,
	user_id         text NOT NULL,
	username        text NOT NULL,
	text            text NOT NULL,
	conversation_id text,
	hidden          boolean NOT NULL DEFAULT false,
	created_at      timestamptz NOT NULL,
	raw_data        jsonb
);

CREATE INDEX IF NOT EXISTS idx_comments_parent_id ON comments (parent_id);
CREATE INDEX IF NOT EXISTS idx_comments_conversation_id ON comments (conversation_id);

CREATE TABLE IF NOT EXISTS comment_classifications (
	id            bigserial PRIMARY KEY,
	comment_id    text NOT NULL UNIQUE REFERENCES comments (id) ON DELETE CASCADE,
	status        text NOT NULL DEFAULT 'PENDING',
	category      text,
	confidence    integer,
	reasoning     text,
	input_tokens  integer,
	output_tokens integer,
	retry_count   integer NOT NULL DEFAULT 0,
	max_retries   integer NOT NULL DEFAULT 3,
	last_error    text,
	started_at    timestamptz,
	completed_at  timestamptz
);

CREATE TABLE IF NOT EXISTS comment_answers (
	id            bigserial PRIMARY KEY,
	comment_id    text NOT NULL UNIQUE REFERENCES comments (id) ON DELETE CASCADE,
	status        text NOT NULL DEFAULT 'PENDING',
	answer        text,
	confidence    double precision,
	quality_score integer,
	input_tokens  integer,
	output_tokens integer,
	retry_count   integer NOT NULL DEFAULT 0,
	max_retries   integer NOT NULL DEFAULT 5,
	last_error    text,
	started_at    timestamptz,
	completed_at  timestamptz,
	reply_sent    boolean NOT NULL DEFAULT false,
	reply_sent_at timestamptz,
	reply_status  text,
	reply_error   text,
	reply_id      text UNIQUE
);
`
