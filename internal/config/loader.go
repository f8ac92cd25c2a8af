package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/wudi/gateway/internal/errors"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

var validDBTypes = map[string]bool{
	"mysql": true, "postgres": true, "sqlite": true,
}

var validRouteTypes = map[RouteType]bool{
	RouteDatabase: true, RouteProxy: true, RoutePlugin: true,
	RouteStatic: true, RouteDef: true, RouteFileUpload: true, RouteDynamic: true,
}

// ConfigSet is the loaded, validated, indexed result of a config file: the
// ordered descriptor sequence plus the lookup indexes the rest of the
// gateway relies on.
type ConfigSet struct {
	Config *Config

	// ordered descriptors, in file order
	Endpoints []EndpointDescriptor

	// byRouteMethod indexes non-def descriptors by "route|METHOD"
	byRouteMethod map[string]*EndpointDescriptor
	// byTable indexes "def" descriptors (and database descriptors) by dbTable
	byTable map[string]*EndpointDescriptor
}

// Lookup returns the descriptor registered for a route and method, if any.
func (cs *ConfigSet) Lookup(route, method string) (*EndpointDescriptor, bool) {
	d, ok := cs.byRouteMethod[route+"|"+method]
	return d, ok
}

// LookupTable returns the descriptor (def or database) registered for a
// table name.
func (cs *ConfigSet) LookupTable(table string) (*EndpointDescriptor, bool) {
	d, ok := cs.byTable[table]
	return d, ok
}

func (cs *ConfigSet) buildIndexes() {
	cs.byRouteMethod = make(map[string]*EndpointDescriptor)
	cs.byTable = make(map[string]*EndpointDescriptor)
	for i := range cs.Endpoints {
		d := &cs.Endpoints[i]
		if d.DBTable != "" {
			cs.byTable[d.DBTable] = d
		}
		if d.RouteType == RouteDef || d.Route == "" {
			continue
		}
		methods := d.AllowMethods
		if len(methods) == 0 {
			methods = []string{"GET"}
		}
		for _, m := range methods {
			cs.byRouteMethod[d.Route+"|"+m] = d
		}
	}
}

// Loader parses and validates endpoint descriptor documents.
type Loader struct{}

// NewLoader creates a configuration loader.
func NewLoader() *Loader { return &Loader{} }

// Load reads a JSON or YAML config document from disk, dispatching on the
// file extension (.yaml/.yml vs everything else).
func (l *Loader) Load(path string) (*ConfigSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "failed to read config file").WithDetails(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.ParseYAML(data)
	default:
		return l.Parse(data)
	}
}

// Parse decodes and validates a JSON config document.
func (l *Loader) Parse(data []byte) (*ConfigSet, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "failed to parse config JSON")
	}
	return l.finish(cfg)
}

// ParseYAML decodes and validates a YAML config document, for deployments
// that prefer YAML's comment support over JSON for endpoint descriptors.
func (l *Loader) ParseYAML(data []byte) (*ConfigSet, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "failed to parse config YAML")
	}
	return l.finish(cfg)
}

func (l *Loader) finish(cfg *Config) (*ConfigSet, error) {
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	cs := &ConfigSet{Config: cfg, Endpoints: append([]EndpointDescriptor(nil), cfg.Endpoints...)}
	cs.buildIndexes()
	return cs, nil
}

// validate enforces the per-routeType required fields, enum checks,
// identifier regex, and duplicate (route, method) rejection.
func (l *Loader) validate(cfg *Config) error {
	seen := make(map[string]bool)

	for i, d := range cfg.Endpoints {
		label := fmt.Sprintf("endpoints[%d]", i)

		if !validRouteTypes[d.RouteType] {
			return errors.New(errors.CodeConfig, fmt.Sprintf("%s: invalid routeType %q", label, d.RouteType))
		}

		if d.RouteType != RouteDef && d.Route == "" {
			return errors.New(errors.CodeConfig, fmt.Sprintf("%s: route is required for routeType %q", label, d.RouteType))
		}

		for _, m := range d.AllowMethods {
			if !validMethods[strings.ToUpper(m)] {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: invalid method %q", label, m))
			}
		}

		switch d.RouteType {
		case RouteDatabase, RouteDef:
			if d.DBType == "" || !validDBTypes[d.DBType] {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: invalid dbType %q", label, d.DBType))
			}
			if d.DBConnection == "" {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: dbConnection is required", label))
			}
			if d.DBTable == "" {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: dbTable is required", label))
			}
			if !identifierPattern.MatchString(d.DBTable) {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: dbTable %q violates identifier pattern", label, d.DBTable))
			}
			for col := range d.ColumnDefinitions {
				if !identifierPattern.MatchString(col) {
					return errors.New(errors.CodeConfig, fmt.Sprintf("%s: column %q violates identifier pattern", label, col))
				}
			}
			if d.RouteType == RouteDatabase {
				if err := validateAllowWriteSubset(label, d); err != nil {
					return err
				}
				if err := validateKeysForMutation(label, d); err != nil {
					return err
				}
			}
		case RouteProxy:
			if d.UpstreamURL == "" {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: upstreamURL is required for proxy routes", label))
			}
		case RoutePlugin:
			if d.BusinessLogic == "" {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: businessLogic plugin name is required", label))
			}
		case RouteStatic:
			if d.StaticPath == "" {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: staticPath is required for static routes", label))
			}
		case RouteFileUpload:
			if d.UploadDir == "" {
				return errors.New(errors.CodeConfig, fmt.Sprintf("%s: uploadDir is required for fileUpload routes", label))
			}
		}

		if d.RouteType != RouteDef && d.Route != "" {
			methods := d.AllowMethods
			if len(methods) == 0 {
				methods = []string{"GET"}
			}
			for _, m := range methods {
				key := d.Route + "|" + strings.ToUpper(m)
				if seen[key] {
					return errors.New(errors.CodeConfig, fmt.Sprintf("%s: duplicate route+method %s %s", label, m, d.Route))
				}
				seen[key] = true
			}
		}
	}

	return nil
}

// mutatingMethods are the AllowMethods entries that write to a database
// route rather than only reading from it.
var mutatingMethods = map[string]bool{
	"POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// validateAllowWriteSubset enforces that every allowWrite column is either
// a column the descriptor defines directly or one reachable through a
// declared relationship, so a mutation can never target a column the
// route never described.
func validateAllowWriteSubset(label string, d EndpointDescriptor) error {
	known := make(map[string]bool, len(d.ColumnDefinitions))
	for col := range d.ColumnDefinitions {
		known[col] = true
	}
	for _, rel := range d.Relationships {
		for _, f := range rel.Fields {
			known[f] = true
		}
	}
	if len(known) == 0 {
		// No columnDefinitions/relationships declared at all — nothing to
		// check against, so every allowWrite entry is accepted as-is.
		return nil
	}
	for _, col := range d.AllowWrite {
		if !known[col] {
			return errors.New(errors.CodeConfig, fmt.Sprintf(
				"%s: allowWrite column %q is not defined in columnDefinitions or any relationship", label, col))
		}
	}
	return nil
}

// validateKeysForMutation enforces that a database route accepting any
// write method (POST/PUT/PATCH/DELETE) declares at least one key, since
// keys are the only mechanism a write handler has for locating its target
// row(s).
func validateKeysForMutation(label string, d EndpointDescriptor) error {
	for _, m := range d.AllowMethods {
		if mutatingMethods[strings.ToUpper(m)] {
			if len(d.Keys) == 0 {
				return errors.New(errors.CodeConfig, fmt.Sprintf(
					"%s: keys must be non-empty for a database route allowing method %q", label, strings.ToUpper(m)))
			}
			return nil
		}
	}
	return nil
}

// Refresh merges a freshly-loaded ConfigSet into the current one: entries
// already present by dbTable are preserved (their in-memory state, such as
// an open DB connection keyed by dbTable, survives); entries absent from
// the new set but present in dbTable in the old set are dropped. The
// merged set keeps the new set's file order throughout, table-keyed and
// non-table-keyed descriptors interleaved as they appear there.
func Refresh(current, incoming *ConfigSet) *ConfigSet {
	merged := make([]EndpointDescriptor, 0, len(incoming.Endpoints))
	for _, d := range incoming.Endpoints {
		if d.DBTable != "" {
			if existing, ok := current.byTable[d.DBTable]; ok {
				merged = append(merged, *existing)
				continue
			}
		}
		merged = append(merged, d)
	}

	out := &ConfigSet{Config: incoming.Config, Endpoints: merged}
	out.buildIndexes()
	return out
}

// Overwrite discards the current ConfigSet entirely and returns incoming
// as-is (after indexing).
func Overwrite(incoming *ConfigSet) *ConfigSet {
	out := &ConfigSet{Config: incoming.Config, Endpoints: append([]EndpointDescriptor(nil), incoming.Endpoints...)}
	out.buildIndexes()
	return out
}
