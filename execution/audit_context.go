package execution

import "context"

// contextKey is a private type for context keys to avoid collisions.
// These keys must match the ones used by the API audit middleware.
type contextKey string

const (
	// auditIPKey is the context key for the requestor's IP address.
	auditIPKey contextKey = "audit_ip"
	// auditKeyIDKey is the context key for the API key identifier.
	auditKeyIDKey contextKey = "audit_key_id"
)

// auditIPFromCtx extracts the requestor IP from context.
// Returns "unknown" if not present.
func auditIPFromCtx(ctx context.Context) string {
	if ip, ok := ctx.Value(auditIPKey).(string); ok {
		return ip
	}
	return "unknown"
}

// auditKeyIDFromCtx extracts the API key identifier from context.
// Returns "unknown" if not present.
func auditKeyIDFromCtx(ctx context.Context) string {
	if keyID, ok := ctx.Value(auditKeyIDKey).(string); ok {
		return keyID
	}
	return "unknown"
}

// NewGatewayContext creates a context with audit fields and a trace ID
// for Broker Gateway Server-initiated operations, distinguishing RPC
// requests from the supervised processes from (hypothetical) direct API
// callers.
func NewGatewayContext() context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, auditIPKey, "gateway-rpc")
	ctx = context.WithValue(ctx, auditKeyIDKey, "system")
	return ctx
}

// NewGatewayContextWithTrace creates a gateway audit context carrying a
// pre-existing trace ID, so all log entries and the resulting audit record
// for one RPC call correlate under a single trace ID.
func NewGatewayContextWithTrace(parentCtx context.Context) context.Context {
	ctx := parentCtx
	ctx = context.WithValue(ctx, auditIPKey, "gateway-rpc")
	ctx = context.WithValue(ctx, auditKeyIDKey, "system")
	return ctx
}
