package main

import (
	"net/http"

	"github.com/platinummonkey/auditkit/pkg/contextkeys"
)

const (
	userIDHeader   = "X-User-ID"
	tenantIDHeader = "X-Tenant-ID"
)

// identityMiddleware copies caller identity headers set by the upstream
// gateway into the request context, where the identity contributor reads them
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(userIDHeader); id != "" {
			ctx = contextkeys.WithUserID(ctx, id)
		}
		if id := r.Header.Get(tenantIDHeader); id != "" {
			ctx = contextkeys.WithTenantID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
