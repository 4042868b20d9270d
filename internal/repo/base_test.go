package repo

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return conn
}

func TestBaseDB_BindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)
	if withCtx.Statement == nil || withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through")
	}

	if base.DB(nil) != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseBind(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if base.Bind(nil).db != db {
		t.Fatalf("nil tx should keep the pool")
	}
	tx := db.Session(&gorm.Session{NewDB: true})
	if base.Bind(tx).db != tx {
		t.Fatalf("expected bound base to use tx")
	}
	if base.db != db {
		t.Fatalf("bind must not mutate the receiver")
	}
}

func TestBaseLockedAddsLockingClause(t *testing.T) {
	base := NewBase(newTestDB(t))
	query := base.Locked(context.Background())
	if _, ok := query.Statement.Clauses["FOR"]; !ok {
		t.Fatalf("expected FOR UPDATE clause, got %v", query.Statement.Clauses)
	}
}
