// Package dbfacade adapts every database-backed route to a single,
// dynamic, table-name-keyed interface over gorm.DB: create, read, update,
// delete, query and createTable all take the target table name at call
// time rather than a compiled-in model type, since endpoint descriptors
// name tables at runtime.
package dbfacade

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// normalizeConnName canonicalizes a dbConnection value into a cache key,
// per the "-"->"_" normalization.
func normalizeConnName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// ConnectionPool lazily opens and caches one *gorm.DB per normalized
// dbConnection name, mirroring the proxy package's TransportPool.
type ConnectionPool struct {
	mu    sync.Mutex
	conns map[string]*gorm.DB
	gl    gorm.Option
}

// NewConnectionPool creates an empty pool. gormLogger is applied to every
// connection opened through it; pass nil to use gorm's default.
func NewConnectionPool(gormLogger gorm.Option) *ConnectionPool {
	return &ConnectionPool{conns: make(map[string]*gorm.DB), gl: gormLogger}
}

// Get returns the cached connection for cfg.DBConnection, opening it on
// first use. A connection open failure returns errors.DbErr with
// retryable=true.
func (p *ConnectionPool) Get(cfg *config.EndpointDescriptor) (*gorm.DB, error) {
	if cfg.DBConnection == "" {
		return nil, errors.DbErr("dbConnection is required", false)
	}
	key := normalizeConnName(cfg.DBConnection)

	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.conns[key]; ok {
		return db, nil
	}

	dialector, err := p.dialectorFor(cfg.DBType, cfg.DBConnection)
	if err != nil {
		return nil, err
	}

	opts := []gorm.Option{}
	if p.gl != nil {
		opts = append(opts, p.gl)
	}
	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return nil, errors.DbErr(fmt.Sprintf("open connection %q: %v", cfg.DBConnection, err), true)
	}
	p.conns[key] = db
	return db, nil
}

func (p *ConnectionPool) dialectorFor(dbType, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(dbType) {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	default:
		return nil, errors.ConfigErr(fmt.Sprintf("unknown dbType %q, expected mysql, postgres or sqlite", dbType))
	}
}

// Close closes every cached connection, collecting but not stopping on
// individual close errors.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []string
	for key, db := range p.conns {
		sqlDB, err := db.DB()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	p.conns = make(map[string]*gorm.DB)
	if len(errs) > 0 {
		return fmt.Errorf("dbfacade: close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
