package store

import (
	"fmt"
	"strings"
)

// Category namespaces one class of state under a tenant.
type Category string

const (
	CategoryCredential Category = "credential"
	CategorySettings   Category = "settings"
	CategorySession    Category = "session"
	CategoryCursor     Category = "cursor"
	CategoryFlag       Category = "flag"
	CategoryIndex      Category = "index"
	CategoryCache      Category = "cache"
	CategoryLease      Category = "lease"
	CategoryFailure    Category = "failure"
)

// Key identifies one state entry. Keys render as
// tenant:<id>:<category>[:<qualifier>]:<field> and can only be built through
// NewKey, which requires a tenant id — cross-tenant reads are therefore
// impossible by construction rather than by discipline.
type Key struct {
	tenant    string
	category  Category
	qualifier string
	field     string
}

// NewKey builds a Key. Tenant and field are mandatory; components may not
// contain the separator, which would let two logical keys collide.
func NewKey(tenantID string, category Category, field string) (Key, error) {
	if tenantID == "" {
		return Key{}, fmt.Errorf("store: key requires a tenant id")
	}
	if category == "" {
		return Key{}, fmt.Errorf("store: key requires a category")
	}
	if field == "" {
		return Key{}, fmt.Errorf("store: key requires a field")
	}
	for _, part := range []string{tenantID, string(category), field} {
		if strings.Contains(part, ":") {
			return Key{}, fmt.Errorf("store: key component %q contains separator", part)
		}
	}
	return Key{tenant: tenantID, category: category, field: field}, nil
}

// WithQualifier returns a copy of k scoped by a qualifier (a thread id, an
// activity id). The qualifier may not contain the separator.
func (k Key) WithQualifier(qualifier string) (Key, error) {
	if qualifier == "" {
		return Key{}, fmt.Errorf("store: empty qualifier")
	}
	if strings.Contains(qualifier, ":") {
		return Key{}, fmt.Errorf("store: qualifier %q contains separator", qualifier)
	}
	k.qualifier = qualifier
	return k, nil
}

// String renders the storage key.
func (k Key) String() string {
	if k.qualifier != "" {
		return fmt.Sprintf("tenant:%s:%s:%s:%s", k.tenant, k.category, k.qualifier, k.field)
	}
	return fmt.Sprintf("tenant:%s:%s:%s", k.tenant, k.category, k.field)
}
