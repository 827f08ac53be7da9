package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS tests (
    id uuid PRIMARY KEY,
    name text NOT NULL,
    category text NOT NULL DEFAULT '',
    module_type text NOT NULL DEFAULT '',
    time_limit_minutes integer NOT NULL DEFAULT 0,
    icon text NOT NULL DEFAULT '',
    color text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS test_sessions (
    id uuid PRIMARY KEY,
    code text NOT NULL UNIQUE,
    start_time timestamptz NOT NULL,
    end_time timestamptz NOT NULL,
    target_position text,
    description text,
    location text,
    max_participants integer,
    current_participants integer NOT NULL DEFAULT 0,
    status text NOT NULL DEFAULT 'draft'
        CHECK (status IN ('draft', 'active', 'expired', 'completed', 'cancelled')),
    allow_late_entry boolean NOT NULL DEFAULT false,
    auto_expire boolean NOT NULL DEFAULT true,
    proctor_id uuid,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW(),
    created_by uuid,
    updated_by uuid,
    CONSTRAINT test_sessions_window CHECK (end_time > start_time)
);

CREATE INDEX IF NOT EXISTS test_sessions_reconcile_idx
ON test_sessions (status, start_time, end_time)
WHERE auto_expire AND status IN ('draft', 'active');

CREATE TABLE IF NOT EXISTS session_modules (
    session_id uuid NOT NULL REFERENCES test_sessions(id) ON DELETE CASCADE,
    test_id uuid NOT NULL REFERENCES tests(id),
    sequence integer NOT NULL CHECK (sequence > 0),
    is_required boolean NOT NULL DEFAULT true,
    weight double precision NOT NULL DEFAULT 1,
    PRIMARY KEY (session_id, test_id),
    CONSTRAINT session_modules_sequence_unique UNIQUE (session_id, sequence)
);

CREATE TABLE IF NOT EXISTS test_attempts (
    id uuid PRIMARY KEY,
    session_id uuid NOT NULL,
    test_id uuid NOT NULL,
    user_id uuid NOT NULL,
    started_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS test_attempts_session_idx
ON test_attempts (session_id);
`

// Migrate creates the tables the service reads and writes. test_attempts belongs
// to the attempt store and is only created when absent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
