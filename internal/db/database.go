package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Connect opens a database handle. postgres:// URLs use lib/pq; anything else
// is treated as a sqlite DSN (used by tests and single-node deployments).
func Connect(url string) (*sqlx.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	driver := "sqlite"
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		driver = "postgres"
	}

	conn, err := sqlx.Connect(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("driver", driver).Msg("Database connection established")
	return conn, nil
}

// IsPostgres reports whether the handle speaks Postgres. The queue store
// uses it to select its row-locking strategy.
func IsPostgres(conn *sqlx.DB) bool {
	return conn.DriverName() == "postgres"
}

var sharedSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		phone_number_id TEXT NOT NULL UNIQUE,
		access_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'connected',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, phone_number)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		phone_number_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		last_message_at TIMESTAMP NOT NULL,
		first_inbound_at TIMESTAMP,
		ai_mode TEXT NOT NULL DEFAULT 'ai',
		ai_paused_until TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_conversations_open
		ON conversations (tenant_id, contact_id) WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'text',
		content TEXT NOT NULL DEFAULT '{}',
		meta_message_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'received',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (meta_message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_messages_conversation ON messages (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS automation_rules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		keyword TEXT NOT NULL,
		match_type TEXT NOT NULL DEFAULT 'contains',
		reply_text TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		nodes TEXT NOT NULL DEFAULT '[]',
		edges TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS ix_workflows_tenant ON workflows (tenant_id, is_active)`,
}

const jobsSchemaPostgres = `CREATE TABLE IF NOT EXISTS webhook_jobs (
	id BIGSERIAL PRIMARY KEY,
	payload BYTEA NOT NULL,
	ordering_key TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP NOT NULL,
	last_error TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

const jobsSchemaSQLite = `CREATE TABLE IF NOT EXISTS webhook_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload BLOB NOT NULL,
	ordering_key TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP NOT NULL,
	last_error TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// InitSchema creates all tables and indexes if they do not exist yet.
func InitSchema(conn *sqlx.DB) error {
	stmts := make([]string, 0, len(sharedSchema)+2)
	stmts = append(stmts, sharedSchema...)
	if IsPostgres(conn) {
		stmts = append(stmts, jobsSchemaPostgres)
	} else {
		stmts = append(stmts, jobsSchemaSQLite)
	}
	stmts = append(stmts, `CREATE INDEX IF NOT EXISTS ix_webhook_jobs_claim ON webhook_jobs (status, next_attempt_at)`)

	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	log.Info().Int("statements", len(stmts)).Msg("Database schema applied")
	return nil
}
