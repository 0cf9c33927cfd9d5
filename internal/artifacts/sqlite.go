package artifacts

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultSQLiteDSN = "file:wafshield.db?_pragma=busy_timeout(5000)"

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = defaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{
		db:         db,
		fetchQuery: `SELECT payload FROM model_artifacts WHERE name = ?`,
		putQuery: `INSERT INTO model_artifacts (name, payload, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS model_artifacts (
				name TEXT PRIMARY KEY,
				payload BLOB NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	}}, nil
}
