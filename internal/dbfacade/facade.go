package dbfacade

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Row is a single database record keyed by column name, the shape every
// facade method reads or writes since table schemas aren't known at
// compile time.
type Row = map[string]interface{}

// CreateResult reports what a Create call produced: the row count, and an
// insertedId that is set only when the written payload carried the
// descriptor's first key column (a backend-generated id is not read back).
type CreateResult struct {
	InsertedID interface{}
	RowCount   int64
}

// Facade is the single entry point database routes, the rule engine's
// SYNC statements, and body-auth credential lookups go through to reach
// storage.
type Facade struct {
	pool *ConnectionPool
}

// New creates a Facade backed by a fresh connection pool using gorm's
// default logger.
func New() *Facade {
	return &Facade{pool: NewConnectionPool(nil)}
}

// NewWithLogLevel creates a Facade whose connections log SQL through the
// gateway's zap logger at the given gorm log level.
func NewWithLogLevel(level gormlogger.LogLevel) *Facade {
	gl := NewGormLogger(level)
	return &Facade{pool: NewConnectionPool(&gorm.Config{Logger: gl})}
}

// NewWithPool creates a Facade over an existing pool, letting callers
// share one pool across multiple Facade values (e.g. a plain Facade and
// one wrapped for rules.Mutator) or substitute a test pool.
func NewWithPool(pool *ConnectionPool) *Facade {
	return &Facade{pool: pool}
}

// Close closes every pooled connection. Call once at process shutdown.
func (f *Facade) Close() error {
	return f.pool.Close()
}

// Create inserts row into entity, after filtering it to cfg.AllowWrite.
func (f *Facade) Create(ctx context.Context, cfg *config.EndpointDescriptor, entity string, row Row) (CreateResult, error) {
	db, err := f.resolve(cfg, entity)
	if err != nil {
		return CreateResult{}, err
	}
	filtered := filterColumns(row, cfg.AllowWrite)
	if len(filtered) == 0 {
		return CreateResult{}, errors.ValidationError("create: no writable columns in payload")
	}

	tx := db.WithContext(ctx).Table(entity).Create(filtered)
	if tx.Error != nil {
		return CreateResult{}, errors.DbErr(fmt.Sprintf("create %s: %v", entity, tx.Error), isRetryable(tx.Error))
	}

	result := CreateResult{RowCount: tx.RowsAffected}
	if len(cfg.Keys) > 0 {
		if v, ok := filtered[cfg.Keys[0]]; ok {
			result.InsertedID = v
		}
	}
	return result, nil
}

// ReadOptions narrows, projects, sorts, and pages the rows Read returns.
// Filter, Fields, and Sort all travel as whitelisted column names —
// everything is checked against cfg.AllowRead and cfg.Relationships
// before it reaches a query, since Filter and the _fields/_sort control
// params both originate from request query strings.
type ReadOptions struct {
	// Filter applies an equality condition per entry. Keys must name a
	// column in cfg.AllowRead.
	Filter Row
	// Fields restricts the projection to this subset. An entry either
	// names a cfg.AllowRead column or a "relatedTable.field" joined
	// column declared in one of cfg.Relationships. Empty means project
	// every allowRead column plus every relationship field.
	Fields []string
	// Sort orders by a cfg.AllowRead column or "relatedTable.field"
	// joined column, descending when prefixed with "-".
	Sort []string
	// Page is a 1-based page number, applied only when Limit > 0.
	Page int
	// Limit caps the row count; 0 means unlimited.
	Limit int
}

// Read projects entity's rows matching opts.Filter down to opts.Fields
// (or every allowRead/relationship column when Fields is empty), joining
// in cfg.Relationships and applying opts.Sort/Page/Limit.
func (f *Facade) Read(ctx context.Context, cfg *config.EndpointDescriptor, entity string, opts ReadOptions) ([]Row, error) {
	db, err := f.resolve(cfg, entity)
	if err != nil {
		return nil, err
	}

	if len(cfg.AllowRead) == 0 {
		return nil, errors.ValidationError("read: route has no allowRead columns configured")
	}

	selectCols, err := buildSelect(cfg, entity, opts.Fields)
	if err != nil {
		return nil, err
	}

	query := db.WithContext(ctx).Table(entity).Select(selectCols)
	query, err = applyJoins(query, entity, cfg.Relationships)
	if err != nil {
		return nil, err
	}
	query, err = applyFilter(query, entity, opts.Filter)
	if err != nil {
		return nil, err
	}
	query, err = applySort(query, entity, cfg.AllowRead, cfg.Relationships, opts.Sort)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
		if opts.Page > 1 {
			query = query.Offset((opts.Page - 1) * opts.Limit)
		}
	}

	var rows []Row
	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.DbErr(fmt.Sprintf("read %s: %v", entity, err), isRetryable(err))
	}
	return rows, nil
}

// Update applies patch (filtered to cfg.AllowWrite) to every row of
// entity matching filter, returning the affected row count.
func (f *Facade) Update(ctx context.Context, cfg *config.EndpointDescriptor, entity string, filter, patch Row) (int64, error) {
	db, err := f.resolve(cfg, entity)
	if err != nil {
		return 0, err
	}
	filtered := filterColumns(patch, cfg.AllowWrite)
	if len(filtered) == 0 {
		return 0, errors.ValidationError("update: no writable columns in patch")
	}

	query := db.WithContext(ctx).Table(entity)
	query, err = applyFilter(query, entity, filter)
	if err != nil {
		return 0, err
	}

	tx := query.Updates(filtered)
	if tx.Error != nil {
		return 0, errors.DbErr(fmt.Sprintf("update %s: %v", entity, tx.Error), isRetryable(tx.Error))
	}
	return tx.RowsAffected, nil
}

// Delete removes every row of entity matching filter. An empty filter is
// rejected, and filter only expresses equality conditions, so Delete
// cannot remove every row of a table.
func (f *Facade) Delete(ctx context.Context, cfg *config.EndpointDescriptor, entity string, filter Row) (int64, error) {
	db, err := f.resolve(cfg, entity)
	if err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, errors.ValidationError("delete: empty filter would remove every row")
	}

	query := db.WithContext(ctx).Table(entity)
	query, err = applyFilter(query, entity, filter)
	if err != nil {
		return 0, err
	}

	tx := query.Delete(&struct{}{})
	if tx.Error != nil {
		return 0, errors.DbErr(fmt.Sprintf("delete %s: %v", entity, tx.Error), isRetryable(tx.Error))
	}
	return tx.RowsAffected, nil
}

// Query runs a parameterized raw SQL statement against cfg's connection;
// the credential lookup (credentials.go) is its caller. It bypasses allowRead/allowWrite filtering — callers must restrict the SQL
// text itself.
func (f *Facade) Query(ctx context.Context, cfg *config.EndpointDescriptor, sql string, params []interface{}) ([]Row, error) {
	db, err := f.pool.Get(cfg)
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := db.WithContext(ctx).Raw(sql, params...).Scan(&rows).Error; err != nil {
		return nil, errors.DbErr(fmt.Sprintf("query: %v", err), isRetryable(err))
	}
	return rows, nil
}

// CreateTable creates entity, if it does not exist, with the given
// column-name -> SQL-type-text schema.
func (f *Facade) CreateTable(ctx context.Context, cfg *config.EndpointDescriptor, entity string, schema map[string]string) error {
	if err := validateIdent(entity); err != nil {
		return err
	}
	db, err := f.pool.Get(cfg)
	if err != nil {
		return err
	}

	columns := make([]string, 0, len(schema))
	for name, sqlType := range schema {
		if err := validateIdent(name); err != nil {
			return err
		}
		columns = append(columns, fmt.Sprintf("%s %s", name, sqlType))
	}
	if len(columns) == 0 {
		return errors.ValidationError("createTable: schema has no columns")
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", entity, joinComma(columns))
	if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return errors.DbErr(fmt.Sprintf("createTable %s: %v", entity, err), isRetryable(err))
	}
	return nil
}

func (f *Facade) resolve(cfg *config.EndpointDescriptor, entity string) (*gorm.DB, error) {
	if err := validateIdent(entity); err != nil {
		return nil, err
	}
	return f.pool.Get(cfg)
}

// applyFilter adds an equality AND-condition per filter key, qualified as
// entity.key so the condition stays unambiguous once applyJoins has pulled
// in related tables that may share a column name. Keys are validated
// identifiers; values always travel as bound parameters via gorm's
// map-form Where.
func applyFilter(query *gorm.DB, entity string, filter Row) (*gorm.DB, error) {
	if len(filter) == 0 {
		return query, nil
	}
	conds := make(map[string]interface{}, len(filter))
	for k, v := range filter {
		if err := validateIdent(k); err != nil {
			return nil, err
		}
		conds[entity+"."+k] = v
	}
	return query.Where(conds), nil
}

// relationFieldSet returns every "relatedTable.field" name declared across
// rels, for validating _fields/_sort entries that reach into a join.
func relationFieldSet(rels []config.Relationship) map[string]bool {
	set := make(map[string]bool)
	for _, rel := range rels {
		for _, f := range rel.Fields {
			set[rel.RelatedTable+"."+f] = true
		}
	}
	return set
}

// quoteAlias quotes s as a SQL alias, needed because a joined column's
// natural alias ("relatedTable.field") contains a literal dot. MySQL
// quotes identifiers with backticks; Postgres and SQLite use double quotes.
func quoteAlias(dbType, s string) string {
	if strings.EqualFold(dbType, "mysql") {
		return "`" + s + "`"
	}
	return `"` + s + `"`
}

// buildSelect returns the column list Read projects: every cfg.AllowRead
// column qualified as entity.col, plus every declared relationship field
// aliased as "relatedTable.field", narrowed to requested when it's
// non-empty. A requested name outside both sets is rejected so _fields
// can't be used to probe columns the route doesn't expose.
func buildSelect(cfg *config.EndpointDescriptor, entity string, requested []string) ([]string, error) {
	allowed := make(map[string]bool, len(cfg.AllowRead))
	for _, c := range cfg.AllowRead {
		allowed[c] = true
	}
	relFields := relationFieldSet(cfg.Relationships)

	want := requested
	if len(want) == 0 {
		want = append(append([]string{}, cfg.AllowRead...), sortedKeys(relFields)...)
	}

	cols := make([]string, 0, len(want))
	for _, name := range want {
		switch {
		case allowed[name]:
			if err := validateIdent(name); err != nil {
				return nil, err
			}
			cols = append(cols, entity+"."+name)
		case relFields[name]:
			cols = append(cols, name+" AS "+quoteAlias(cfg.DBType, name))
		default:
			return nil, errors.ValidationError(fmt.Sprintf("read: field %q is not in allowRead or a declared relationship", name))
		}
	}
	return cols, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyJoins adds one LEFT/INNER/RIGHT JOIN per relationship, validating
// every identifier first since the join clause is built as raw SQL text.
func applyJoins(query *gorm.DB, entity string, rels []config.Relationship) (*gorm.DB, error) {
	for _, rel := range rels {
		for _, ident := range []string{rel.RelatedTable, rel.ForeignKey, rel.RelatedKey} {
			if err := validateIdent(ident); err != nil {
				return nil, err
			}
		}
		kind := strings.ToUpper(strings.TrimSpace(rel.JoinType))
		switch kind {
		case "", "LEFT":
			kind = "LEFT"
		case "INNER", "RIGHT":
		default:
			return nil, errors.ValidationError(fmt.Sprintf("read: unsupported joinType %q", rel.JoinType))
		}
		clause := fmt.Sprintf("%s JOIN %s ON %s.%s = %s.%s",
			kind, rel.RelatedTable, entity, rel.ForeignKey, rel.RelatedTable, rel.RelatedKey)
		query = query.Joins(clause)
	}
	return query, nil
}

// applySort validates each _sort entry against allowRead plus declared
// relationship fields (a leading "-" requests descending order) before
// handing it to gorm's Order, since sort column names also reach raw SQL.
func applySort(query *gorm.DB, entity string, allowed []string, rels []config.Relationship, sortFields []string) (*gorm.DB, error) {
	if len(sortFields) == 0 {
		return query, nil
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		allowedSet[c] = true
	}
	relFields := relationFieldSet(rels)

	for _, entry := range sortFields {
		desc := false
		name := entry
		if strings.HasPrefix(name, "-") {
			desc = true
			name = name[1:]
		}
		var col string
		switch {
		case allowedSet[name]:
			if err := validateIdent(name); err != nil {
				return nil, err
			}
			col = entity + "." + name
		case relFields[name]:
			col = name
		default:
			return nil, errors.ValidationError(fmt.Sprintf("read: sort field %q is not in allowRead or a declared relationship", name))
		}
		if desc {
			col += " DESC"
		}
		query = query.Order(col)
	}
	return query, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// isRetryable reports the Retryable flag of a *errors.GatewayError. Any
// other error, including the raw gorm and driver errors the facade passes
// in, reports false: connectivity failures are not told apart from
// data/constraint errors.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	ge, ok := err.(*errors.GatewayError)
	return ok && ge.Retryable
}
