// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the module must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/auditkit/pkg/contextkeys"
//	ctx = contextkeys.WithUserID(ctx, "42")
//	userID, _ := contextkeys.UserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuditScopeKey contains the innermost open *auditing.Scope
	// Set by: auditing.Manager.BeginScope (pkg/auditing/scope.go)
	// Required by: ActionInterceptor, RecordEntityChanges, adapters
	// Type: *auditing.Scope
	AuditScopeKey Key = "audit_scope"

	// RequestIDKey contains the request or correlation ID string
	// Set by: httpaudit middleware, grpcaudit interceptor, callers
	// Used by: CorrelationContributor, logs
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the acting user's ID string
	// Set by: Auth layer of the embedding application
	// Used by: IdentityContributor
	// Type: string
	UserIDKey Key = "user_id"

	// TenantIDKey contains the tenant ID string
	// Set by: Tenant resolution of the embedding application
	// Used by: IdentityContributor
	// Type: string
	TenantIDKey Key = "tenant_id"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithTenantID adds tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// RequestID returns the request ID, if any
func RequestID(ctx context.Context) (string, bool) {
	return stringValue(ctx, RequestIDKey)
}

// UserID returns the user ID, if any
func UserID(ctx context.Context) (string, bool) {
	return stringValue(ctx, UserIDKey)
}

// TenantID returns the tenant ID, if any
func TenantID(ctx context.Context) (string, bool) {
	return stringValue(ctx, TenantIDKey)
}

func stringValue(ctx context.Context, key Key) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
