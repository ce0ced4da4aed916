package packer

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// FTS flavors.
const (
	FTS4 = "fts4"
	FTS5 = "fts5"
)

func ftsSchema(flavor string) string {
	if flavor == FTS5 {
		return "CREATE VIRTUAL TABLE search USING fts5(name, summary, author, content='')"
	}
	return `CREATE VIRTUAL TABLE search USING fts4(content="", name, summary, author)`
}

// openDB opens the SQLite file at path with a single connection.
func openDB(path string, readOnly bool) (*sql.DB, error) {
	dsn := "file:" + path
	if readOnly {
		dsn += "?mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("packer: open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("packer: open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// initDB applies the build pragmas and creates the schema. page_size only
// takes effect before the first table is created.
func initDB(ctx context.Context, db *sql.DB, flavor string) error {
	stmts := []string{
		"PRAGMA page_size = 8192",
		"PRAGMA journal_mode = OFF",
		"PRAGMA synchronous = OFF",
		schemaSQL,
		ftsSchema(flavor),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("packer: init index: %w", err)
		}
	}
	return nil
}

// integrityCheck validates the entities table and its indexes. A whole
// database check cannot run here: SQLite refuses to validate the inverted
// index of a contentless FTS4 table.
func integrityCheck(ctx context.Context, db *sql.DB) error {
	var res string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check(entities)").Scan(&res); err != nil {
		return fmt.Errorf("packer: integrity check: %w", err)
	}
	if res != "ok" {
		return fmt.Errorf("%w: sqlite reports %q", ErrIntegrity, res)
	}
	return nil
}
