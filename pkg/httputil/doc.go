// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
//
// # Overview
//
// Helpers for the auditd HTTP surface: JSON responses, request parsing and
// the middleware chain that runs in front of the audit middleware.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteNotFound(w, "order not found")
//
// # Request Parsing
//
//	var req CreateOrderRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(log),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//	)(router)
//
// RequestIDMiddleware stores the request ID with contextkeys.WithRequestID,
// which the audit correlation contributor reads when a scope opens.
// StatusRecorder is shared with the audit middleware to capture the final
// status code.
package httputil
