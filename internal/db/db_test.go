package db

import "testing"

func TestRebind(t *testing.T) {
	q := `SELECT id FROM priorities WHERE status=? AND until_at < ? AND position_id=?`
	if got := Rebind(DialectSQLite, q); got != q {
		t.Fatalf("sqlite query should be untouched, got %s", got)
	}
	want := `SELECT id FROM priorities WHERE status=$1 AND until_at < $2 AND position_id=$3`
	if got := Rebind(DialectPostgres, q); got != want {
		t.Fatalf("rebind mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestOpenSQLiteInWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != DialectSQLite {
		t.Fatalf("expected sqlite dialect, got %s", dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open(Config{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, err := Open(Config{Driver: DialectPostgres}); err == nil {
		t.Fatalf("expected dsn error")
	}
}
