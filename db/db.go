package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	seq         INTEGER NOT NULL,
	started_at  TEXT    NOT NULL,
	duration_us INTEGER NOT NULL,
	fault       BOOLEAN NOT NULL DEFAULT FALSE,
	errors      INTEGER NOT NULL DEFAULT 0,
	devices     INTEGER NOT NULL,
	cells       INTEGER NOT NULL,
	aux         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cell_voltages (
	cycle_id INTEGER NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
	device   INTEGER NOT NULL,
	cell     INTEGER NOT NULL,
	code     INTEGER NOT NULL,
	PRIMARY KEY (cycle_id, device, cell)
);

CREATE TABLE IF NOT EXISTS temperatures (
	cycle_id INTEGER NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
	device   INTEGER NOT NULL,
	channel  INTEGER NOT NULL,
	raw      INTEGER NOT NULL,
	tenths   INTEGER NOT NULL,
	PRIMARY KEY (cycle_id, device, channel)
);
`

// Open opens (and creates if needed) the SQLite database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	// foreign keys are per connection in SQLite
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite3", path+sep+"_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer, and ":memory:" databases are per connection
	conn.SetMaxOpenConns(1)

	if err := InitSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Database ready")
	return conn, nil
}

func InitSchema(db *sql.DB) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(schema); err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return CommitTransaction(tx)
}
