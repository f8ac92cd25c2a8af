package dbfacade

import (
	"regexp"

	"github.com/wudi/gateway/internal/errors"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateIdent rejects anything outside [A-Za-z0-9_] starting with a
// letter or underscore. gorm's dialector quotes identifiers per-backend
// on its own (backtick for mysql/sqlite, double quote for postgres);
// this is the narrow gate that keeps table/column names handed to gorm
// from ever carrying SQL syntax.
func validateIdent(name string) error {
	if !identifierRe.MatchString(name) {
		return errors.ValidationError("invalid identifier: " + name)
	}
	return nil
}

// filterColumns keeps only the keys of row present in allowed. A nil or
// empty allowed list is treated as "everything denied" by the caller,
// not as "everything allowed" — allowRead/allowWrite must be explicit.
func filterColumns(row map[string]interface{}, allowed []string) map[string]interface{} {
	set := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		set[c] = struct{}{}
	}
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		if _, ok := set[k]; ok {
			out[k] = v
		}
	}
	return out
}
