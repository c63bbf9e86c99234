package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect opens a connection pool to the PostgreSQL database.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// Migrate creates the snapshots table if it does not exist.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id            TEXT PRIMARY KEY,
			room_code     TEXT NOT NULL,
			version       BIGINT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			checksum      TEXT NOT NULL,
			game_state    JSONB NOT NULL,
			player_states JSONB,
			metadata      JSONB NOT NULL,
			corrupted     BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (room_code, version)
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_room ON snapshots (room_code, version DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate snapshots: %w", err)
	}
	return nil
}
