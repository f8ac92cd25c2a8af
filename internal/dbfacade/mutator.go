package dbfacade

import (
	"context"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/errors"
)

// TableResolver finds the endpoint descriptor that owns a dbTable name,
// the same (route, dbTable) index the config loader builds for def
// descriptors.
type TableResolver func(table string) (*config.EndpointDescriptor, bool)

// MutatorAdapter implements rules.Mutator over a Facade. The DSL's INSERT
// statement gives positional values with no column names
// ("INSERT INTO table VALUES (expr, expr, ...)"), so positions are
// mapped onto cfg.AllowWrite in declared order — the same ordered-list
// contract the descriptor already uses for read projection.
type MutatorAdapter struct {
	facade  *Facade
	resolve TableResolver
}

// NewMutatorAdapter binds a Facade and a table-to-descriptor resolver for
// use as a rules.Mutator.
func NewMutatorAdapter(facade *Facade, resolve TableResolver) *MutatorAdapter {
	return &MutatorAdapter{facade: facade, resolve: resolve}
}

// Insert implements rules.Mutator.
func (m *MutatorAdapter) Insert(ctx context.Context, table string, values []interface{}) error {
	cfg, ok := m.resolve(table)
	if !ok {
		return errors.DbErr("no endpoint descriptor registered for table "+table, false)
	}
	row := make(Row, len(cfg.AllowWrite))
	for i, col := range cfg.AllowWrite {
		if i >= len(values) {
			break
		}
		row[col] = values[i]
	}
	_, err := m.facade.Create(ctx, cfg, table, row)
	return err
}

// Update implements rules.Mutator.
func (m *MutatorAdapter) Update(ctx context.Context, table string, filter, patch map[string]interface{}) error {
	cfg, ok := m.resolve(table)
	if !ok {
		return errors.DbErr("no endpoint descriptor registered for table "+table, false)
	}
	_, err := m.facade.Update(ctx, cfg, table, filter, patch)
	return err
}
