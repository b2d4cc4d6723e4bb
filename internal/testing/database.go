// Package testing holds helpers shared by package tests.
package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/exportd/db"
)

// CreateTestDB creates a migrated in-memory SQLite job store.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(conn, nil); err != nil {
		conn.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// CreateWarehouseDB creates an empty on-disk SQLite database standing in for
// the analytical warehouse and returns its path.
func CreateWarehouseDB(t *testing.T, statements ...string) string {
	t.Helper()

	path := t.TempDir() + "/warehouse.db"
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to create warehouse database: %v", err)
	}
	defer conn.Close()

	for _, stmt := range statements {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("Failed to seed warehouse database: %v\n%s", err, stmt)
		}
	}
	return path
}
