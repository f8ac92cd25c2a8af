package dbfacade

import (
	"context"
	"fmt"
	"strings"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/errors"
)

// CredentialLookup adapts a Facade to auth.CredentialLookup: it resolves
// a username against a descriptor's backing table, reading the
// conventional "auth"/"authentication"/"acl" columns the body-auth and
// header-auth flows expect.
type CredentialLookup struct {
	facade *Facade
	cfg    *config.EndpointDescriptor
}

// NewCredentialLookup binds a Facade to the connection named by cfg, for
// one route's auth backing table.
func NewCredentialLookup(facade *Facade, cfg *config.EndpointDescriptor) *CredentialLookup {
	return &CredentialLookup{facade: facade, cfg: cfg}
}

// Lookup implements auth.CredentialLookup. table is expected to match the
// route's own dbTable; it is accepted as a parameter (rather than read
// off cfg) so the same adapter type can back routes that share a users
// table under a different dbTable value.
func (c *CredentialLookup) Lookup(ctx context.Context, table, username string) (string, []string, error) {
	if err := validateIdent(table); err != nil {
		return "", nil, err
	}
	stmt := fmt.Sprintf("SELECT authentication, acl FROM %s WHERE auth = ? LIMIT 1", table)
	rows, err := c.facade.Query(ctx, c.cfg, stmt, []interface{}{username})
	if err != nil {
		return "", nil, err
	}
	if len(rows) == 0 {
		return "", nil, errors.NotFoundErr("no credential row for username " + username)
	}

	hash, _ := rows[0]["authentication"].(string)
	var acl []string
	switch v := rows[0]["acl"].(type) {
	case string:
		if v != "" {
			acl = strings.Split(v, ",")
		}
	case []string:
		acl = v
	}
	return hash, acl, nil
}
