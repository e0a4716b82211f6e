// Package registry provides lookup over the module-interface catalog and
// base-URL resolution for the executor. The catalog itself is a derived
// document produced by an external aggregator; flowctl never writes it.
package registry

import (
	"strings"

	"github.com/mpetrovici/flowctl/pkg/schema"
)

// Endpoint pairs a module with one of its interfaces, as found by lookup.
type Endpoint struct {
	Module    *schema.Module
	Interface *schema.Interface
}

// Catalog wraps a loaded registry with indexed lookup.
type Catalog struct {
	reg      *schema.Registry
	byID     map[string]Endpoint // endpoint id → entry
	byModule map[string]*schema.Module
}

// NewCatalog indexes a registry for lookup.
func NewCatalog(reg *schema.Registry) *Catalog {
	c := &Catalog{
		reg:      reg,
		byID:     make(map[string]Endpoint),
		byModule: make(map[string]*schema.Module),
	}
	for i := range reg.Modules {
		mod := &reg.Modules[i]
		c.byModule[mod.ID] = mod
		for j := range mod.Interfaces {
			iface := &mod.Interfaces[j]
			c.byID[schema.EndpointID(mod.ID, iface.ID)] = Endpoint{Module: mod, Interface: iface}
		}
	}
	return c
}

// Lookup returns the endpoint for an id of the shape <module>:<interface>.
func (c *Catalog) Lookup(endpointID string) (Endpoint, bool) {
	ep, ok := c.byID[endpointID]
	return ep, ok
}

// Module returns the module with the given id.
func (c *Catalog) Module(moduleID string) (*schema.Module, bool) {
	m, ok := c.byModule[moduleID]
	return m, ok
}

// CallPath returns the URL path for an interface. Registries that omit an
// explicit path get the interface id as a single path segment.
func CallPath(iface *schema.Interface) string {
	if iface.Path != "" {
		if strings.HasPrefix(iface.Path, "/") {
			return iface.Path
		}
		return "/" + iface.Path
	}
	return "/" + iface.ID
}

// BaseURLEnvVar derives the environment-variable name consulted for a
// module's base URL when the runtime config has no entry. The module id is
// uppercased and separator characters are normalized to underscores, so
// "billing-svc" → FLOWCTL_ENDPOINT_BILLING_SVC. The derivation is pure; the
// same module id always yields the same name.
func BaseURLEnvVar(moduleID string) string {
	var b strings.Builder
	b.WriteString("FLOWCTL_ENDPOINT_")
	for _, r := range strings.ToUpper(moduleID) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// BaseURL resolves the base URL for a module: runtime config first, then the
// environment-variable convention. getenv is passed in rather than read from
// process-global state so resolution stays pure and testable.
func BaseURL(moduleID string, rc *schema.RuntimeConfig, getenv func(string) string) string {
	if rc != nil {
		if u, ok := rc.BaseURLs[moduleID]; ok && u != "" {
			return strings.TrimRight(u, "/")
		}
	}
	if getenv != nil {
		if u := getenv(BaseURLEnvVar(moduleID)); u != "" {
			return strings.TrimRight(u, "/")
		}
	}
	return ""
}
