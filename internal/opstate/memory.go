package opstate

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewMemory returns a store backed by a private in-memory database
// using the pure-Go SQLite driver. Contents are lost on Close.
func NewMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
