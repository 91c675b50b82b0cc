// Package registry is the boundary to the MCP gateway that actually hosts
// the server integrations. The probe engine depends on the Registry
// interface only; the HTTP client in this package is one implementation.
package registry

import "context"

type Registry interface {
	// HasConfiguration reports whether the gateway has a usable
	// configuration for the named server. Only a definitive negative
	// answer returns false; transport trouble is left for CallTool to
	// surface as a classifiable error.
	HasConfiguration(ctx context.Context, server string) bool

	// CallTool invokes one tool on one server and returns its payload.
	// The error message is the sole classification input downstream, so
	// implementations should keep it meaningful.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*ToolResult, error)
}
