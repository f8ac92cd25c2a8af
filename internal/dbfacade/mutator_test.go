package dbfacade

import (
	"context"
	"testing"

	"github.com/wudi/gateway/internal/config"
)

func TestMutatorAdapterInsertMapsPositionalValues(t *testing.T) {
	facade, cfg := testFacade(t)
	resolver := func(table string) (*config.EndpointDescriptor, bool) {
		if table == "widgets" {
			return cfg, true
		}
		return nil, false
	}
	mutator := NewMutatorAdapter(facade, resolver)

	if err := mutator.Insert(context.Background(), "widgets", []interface{}{"lamp", 12.5}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := facade.Read(context.Background(), cfg, "widgets", ReadOptions{Filter: Row{"name": "lamp"}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 1 || rows[0]["price"] != 12.5 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestMutatorAdapterUpdateUnknownTable(t *testing.T) {
	facade, _ := testFacade(t)
	resolver := func(table string) (*config.EndpointDescriptor, bool) { return nil, false }
	mutator := NewMutatorAdapter(facade, resolver)

	if err := mutator.Update(context.Background(), "ghost", nil, nil); err == nil {
		t.Fatal("expected error for unregistered table")
	}
}
