package schema

import (
	"fmt"
	"strings"
)

// NodeRef identifies one node within one flow. It is a comparable value type
// so it can key maps directly — composite string keys ("flow::node") invite
// silent collisions when ids contain the separator.
type NodeRef struct {
	Flow string
	Node string
}

// String renders the reference for human-readable messages.
func (r NodeRef) String() string {
	return r.Flow + "::" + r.Node
}

// IsZero reports whether either component is missing.
func (r NodeRef) IsZero() bool {
	return r.Flow == "" || r.Node == ""
}

// ParseEndpointID splits an endpoint id of the fixed shape
// "<module>:<interface>" into its components.
func ParseEndpointID(id string) (moduleID, interfaceID string, err error) {
	i := strings.Index(id, ":")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("malformed endpoint id %q: want <module>:<interface>", id)
	}
	return id[:i], id[i+1:], nil
}

// EndpointID joins a module and interface id into the canonical endpoint id.
func EndpointID(moduleID, interfaceID string) string {
	return moduleID + ":" + interfaceID
}
