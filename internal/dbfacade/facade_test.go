package dbfacade

import (
	"context"
	"testing"

	"github.com/wudi/gateway/internal/config"
)

func testFacade(t *testing.T) (*Facade, *config.EndpointDescriptor) {
	t.Helper()
	facade := New()
	cfg := &config.EndpointDescriptor{
		DBType:       "sqlite",
		DBConnection: "file:" + t.Name() + "?mode=memory&cache=shared",
		DBTable:      "widgets",
		Keys:         []string{"id"},
		AllowRead:    []string{"id", "name", "price"},
		AllowWrite:   []string{"name", "price"},
	}
	db, err := facade.pool.Get(cfg)
	if err != nil {
		t.Fatalf("open connection: %v", err)
	}
	if err := db.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, price REAL, secret TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	return facade, cfg
}

func TestFacadeCreateFiltersToAllowWrite(t *testing.T) {
	facade, cfg := testFacade(t)
	ctx := context.Background()

	result, err := facade.Create(ctx, cfg, "widgets", Row{"name": "gizmo", "price": 9.99, "secret": "leak"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.RowCount != 1 {
		t.Fatalf("expected 1 row affected, got %d", result.RowCount)
	}

	rows, err := facade.Read(ctx, cfg, "widgets", ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if _, leaked := rows[0]["secret"]; leaked {
		t.Error("secret column leaked through allowRead projection")
	}
}

func TestFacadeUpdateAndDelete(t *testing.T) {
	facade, cfg := testFacade(t)
	ctx := context.Background()

	if _, err := facade.Create(ctx, cfg, "widgets", Row{"name": "gadget", "price": 1.0}); err != nil {
		t.Fatalf("create: %v", err)
	}

	count, err := facade.Update(ctx, cfg, "widgets", Row{"name": "gadget"}, Row{"price": 2.5})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row updated, got %d", count)
	}

	rows, err := facade.Read(ctx, cfg, "widgets", ReadOptions{Filter: Row{"name": "gadget"}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rows[0]["price"] != 2.5 {
		t.Errorf("expected price=2.5, got %v", rows[0]["price"])
	}

	deleted, err := facade.Delete(ctx, cfg, "widgets", Row{"name": "gadget"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row deleted, got %d", deleted)
	}
}

func TestFacadeDeleteRejectsEmptyFilter(t *testing.T) {
	facade, cfg := testFacade(t)
	if _, err := facade.Delete(context.Background(), cfg, "widgets", nil); err == nil {
		t.Fatal("expected error for unscoped delete")
	}
}

func TestFacadeRejectsInvalidIdentifier(t *testing.T) {
	facade, cfg := testFacade(t)
	if _, err := facade.Read(context.Background(), cfg, "widgets; DROP TABLE widgets", ReadOptions{}); err == nil {
		t.Fatal("expected error for malformed table identifier")
	}
}

func TestFacadeReadHonorsRelationshipJoinsAndFields(t *testing.T) {
	facade, cfg := testFacade(t)
	ctx := context.Background()

	db, err := facade.pool.Get(cfg)
	if err != nil {
		t.Fatalf("open connection: %v", err)
	}
	if err := db.Exec("CREATE TABLE makers (id INTEGER PRIMARY KEY AUTOINCREMENT, maker_name TEXT)").Error; err != nil {
		t.Fatalf("create makers table: %v", err)
	}
	if err := db.Exec("INSERT INTO makers (id, maker_name) VALUES (1, 'Acme')").Error; err != nil {
		t.Fatalf("seed makers: %v", err)
	}

	cfg.ColumnDefinitions = map[string]string{"maker_id": "INTEGER"}
	cfg.Relationships = []config.Relationship{{
		RelatedTable: "makers",
		ForeignKey:   "maker_id",
		RelatedKey:   "id",
		JoinType:     "left",
		Fields:       []string{"maker_name"},
	}}
	if err := db.Exec("ALTER TABLE widgets ADD COLUMN maker_id INTEGER").Error; err != nil {
		t.Fatalf("alter widgets: %v", err)
	}

	if _, err := facade.Create(ctx, cfg, "widgets", Row{"name": "gizmo", "price": 9.99}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Exec("UPDATE widgets SET maker_id = 1 WHERE name = 'gizmo'").Error; err != nil {
		t.Fatalf("link maker: %v", err)
	}

	rows, err := facade.Read(ctx, cfg, "widgets", ReadOptions{Fields: []string{"name", "makers.maker_name"}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["makers.maker_name"] != "Acme" {
		t.Errorf("expected joined maker_name=Acme, got %+v", rows[0])
	}
}

func TestFacadeReadAppliesSortAndLimit(t *testing.T) {
	facade, cfg := testFacade(t)
	ctx := context.Background()

	if _, err := facade.Create(ctx, cfg, "widgets", Row{"name": "a", "price": 3.0}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := facade.Create(ctx, cfg, "widgets", Row{"name": "b", "price": 1.0}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := facade.Create(ctx, cfg, "widgets", Row{"name": "c", "price": 2.0}); err != nil {
		t.Fatalf("create: %v", err)
	}

	rows, err := facade.Read(ctx, cfg, "widgets", ReadOptions{Sort: []string{"price"}, Limit: 2})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "b" || rows[1]["name"] != "c" {
		t.Errorf("expected ascending price order [b,c], got %+v", rows)
	}
}

func TestFacadeReadRejectsUnknownField(t *testing.T) {
	facade, cfg := testFacade(t)
	if _, err := facade.Read(context.Background(), cfg, "widgets", ReadOptions{Fields: []string{"secret"}}); err == nil {
		t.Fatal("expected error for field outside allowRead and relationships")
	}
}

func TestFacadeRejectsUnknownDBType(t *testing.T) {
	facade := New()
	cfg := &config.EndpointDescriptor{DBType: "oracle", DBConnection: "whatever"}
	if _, err := facade.pool.Get(cfg); err == nil {
		t.Fatal("expected error for unsupported dbType")
	}
}

func TestNormalizeConnName(t *testing.T) {
	if got := normalizeConnName("primary-db"); got != "primary_db" {
		t.Errorf("expected primary_db, got %q", got)
	}
}

func TestFilterColumns(t *testing.T) {
	row := Row{"a": 1, "b": 2, "c": 3}
	out := filterColumns(row, []string{"a", "c"})
	if len(out) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(out))
	}
	if _, ok := out["b"]; ok {
		t.Error("expected b to be filtered out")
	}
}
