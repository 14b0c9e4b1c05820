package ledger

import (
	"fmt"
	"strings"
)

// Address identifies the ledger of one platform of one tenant
type Address struct {
	Tenant   string `json:"tenant"`
	Platform string `json:"platform"`
}

// NewAddress creates a validated address
func NewAddress(tenant, platform string) (Address, error) {
	a := Address{Tenant: strings.TrimSpace(tenant), Platform: strings.TrimSpace(platform)}
	return a, a.Validate()
}

// Validate checks that both ids are non-empty single path segments
func (a Address) Validate() error {
	for _, part := range [][2]string{{"tenant", a.Tenant}, {"platform", a.Platform}} {
		name, id := part[0], part[1]
		if id == "" {
			return fmt.Errorf("%s id cannot be empty", name)
		}
		if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
			return fmt.Errorf("%s id %q is not a valid path segment", name, id)
		}
	}
	return nil
}

// Key is the lock and log key of the address
func (a Address) Key() string {
	return fmt.Sprintf("tenant/%s/platform/%s", a.Tenant, a.Platform)
}

// String returns the address key
func (a Address) String() string {
	return a.Key()
}

// Path returns the blob path of the serialized ledger for extension ext
func (a Address) Path(ext string) string {
	return fmt.Sprintf("%s/ledger.%s", a.Key(), ext)
}

// TenantPrefix returns the blob prefix holding every ledger of tenant; an
// empty tenant selects all tenants.
func TenantPrefix(tenant string) string {
	if tenant == "" {
		return "tenant/"
	}
	return fmt.Sprintf("tenant/%s/", tenant)
}

// ParseAddress extracts the address from a ledger blob path with extension ext
func ParseAddress(path, ext string) (Address, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 5 || parts[0] != "tenant" || parts[2] != "platform" || parts[4] != "ledger."+ext {
		return Address{}, false
	}
	a := Address{Tenant: parts[1], Platform: parts[3]}
	if a.Validate() != nil {
		return Address{}, false
	}
	return a, true
}
