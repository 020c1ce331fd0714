package storage

import (
	"testing"

	"github.com/vitalsync/internal/config"
)

func TestNewClickHouseDB(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "vitalsync",
		User:     "default",
		Password: "",
	}

	db, err := NewClickHouseDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	ctx := testContext(t)
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	if db.Conn() == nil {
		t.Error("Conn() returned nil")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	content := `
-- archive table
CREATE TABLE IF NOT EXISTS sync_log_archive (id Int64) ENGINE = MergeTree() ORDER BY id;

CREATE TABLE other (x Int32) ENGINE = Memory;
`
	statements := splitSQLStatements(content)
	if len(statements) != 2 {
		t.Fatalf("splitSQLStatements() returned %d statements, want 2", len(statements))
	}
	for _, stmt := range statements {
		if stmt == "" {
			t.Error("got empty statement")
		}
		if stmt[len(stmt)-1] == ';' {
			t.Errorf("statement retains trailing semicolon: %q", stmt)
		}
	}
}
