package core

import (
	"context"
	"testing"
	"time"

	"github.com/weaverdb/weaverdb/internal/table"
	"github.com/weaverdb/weaverdb/internal/txn"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	c, err := Open(Config{WorkDir: t.TempDir(), JanitorPeriod: -1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func mustQuery(t *testing.T, c *Core, tx *txn.Tx, sql string) ([]string, [][]table.Value) {
	t.Helper()
	sch, rows, err := c.Query(context.Background(), tx, sql)
	if err != nil {
		t.Fatalf("Query(%q): %v", sql, err)
	}
	names := make([]string, len(sch))
	for i, col := range sch {
		names[i] = col.Name
	}
	values := make([][]table.Value, len(rows))
	for i, r := range rows {
		values[i] = r.Values
	}
	return names, values
}

func TestCreateInsertSelectRoundTrip(t *testing.T) {
	c := newTestCore(t)
	tx := c.Begin(txn.SnapshotIsolation)

	if _, _, err := c.Query(context.Background(), tx, `CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR(32), age INT)`); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, _, err := c.Query(context.Background(), tx, `INSERT INTO users (id, name, age) VALUES (1, 'alice', 30)`); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	if _, _, err := c.Query(context.Background(), tx, `INSERT INTO users (id, name, age) VALUES (2, 'bob', 25)`); err != nil {
		t.Fatalf("INSERT (2): %v", err)
	}
	if err := c.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := c.Begin(txn.SnapshotIsolation)
	names, rows := mustQuery(t, c, tx2, `SELECT name, age FROM users WHERE age > 26`)
	if len(names) != 2 || names[0] != "name" || names[1] != "age" {
		t.Fatalf("unexpected schema: %+v", names)
	}
	if len(rows) != 1 || rows[0][0].Str != "alice" {
		t.Fatalf("expected only alice, got %+v", rows)
	}
}

func TestCreateTableRejectsDuplicateName(t *testing.T) {
	c := newTestCore(t)
	tx := c.Begin(txn.SnapshotIsolation)
	if _, _, err := c.Query(context.Background(), tx, `CREATE TABLE t (id INT PRIMARY KEY)`); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	c.Commit(tx)

	if err := c.CreateTable("default", "t", nil, nil); err == nil {
		t.Fatalf("expected an error creating a duplicate table")
	}
}

func TestExplainRendersScanAndFilter(t *testing.T) {
	c := newTestCore(t)
	tx := c.Begin(txn.SnapshotIsolation)
	c.Query(context.Background(), tx, `CREATE TABLE t (id INT PRIMARY KEY, v INT)`)
	c.Commit(tx)

	tx2 := c.Begin(txn.SnapshotIsolation)
	_, rows := mustQuery(t, c, tx2, `EXPLAIN SELECT v FROM t WHERE v > 1`)
	if len(rows) < 2 {
		t.Fatalf("expected at least scan+filter lines, got %+v", rows)
	}
}

func TestReopenRecoversTablesAndData(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Config{WorkDir: dir, JanitorPeriod: -1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx := c.Begin(txn.SnapshotIsolation)
	c.Query(context.Background(), tx, `CREATE TABLE t (id INT PRIMARY KEY, v VARCHAR(32))`)
	c.Query(context.Background(), tx, `INSERT INTO t (id, v) VALUES (1, 'hello')`)
	if err := c.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := Open(Config{WorkDir: dir, JanitorPeriod: -1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()

	tx2 := c2.Begin(txn.SnapshotIsolation)
	_, rows := mustQuery(t, c2, tx2, `SELECT v FROM t`)
	if len(rows) != 1 || rows[0][0].Str != "hello" {
		t.Fatalf("expected recovered row, got %+v", rows)
	}
}

func TestJanitorRefreshesCostTableOnSchedule(t *testing.T) {
	c, err := Open(Config{WorkDir: t.TempDir(), JanitorPeriod: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	time.Sleep(80 * time.Millisecond)
	// runJanitor must not have paniced or deadlocked by now; a basic
	// liveness check that a query still completes afterward.
	tx := c.Begin(txn.SnapshotIsolation)
	defer c.Rollback(tx)
	if _, _, err := c.Query(context.Background(), tx, `CREATE TABLE t (id INT PRIMARY KEY)`); err != nil {
		t.Fatalf("Query after janitor ticks: %v", err)
	}
}
