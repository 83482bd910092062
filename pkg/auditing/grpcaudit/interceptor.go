// Package grpcaudit records unary gRPC calls as audit actions
package grpcaudit

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/platinummonkey/auditkit/pkg/auditing"
	"github.com/platinummonkey/auditkit/pkg/contextkeys"
)

const (
	requestIDKey = "x-request-id"

	// CodeProperty is the extra property holding the gRPC status code
	CodeProperty = "grpc.code"
)

// UnaryServerInterceptor audits unary calls. The request message is recorded
// as the "request" parameter and the status code as an extra property.
func UnaryServerInterceptor(manager *auditing.Manager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := SplitMethod(info.FullMethod)
		ctx = withRequestID(ctx)

		inv := auditing.Invocation{
			Service:   service,
			Method:    method,
			Arguments: []auditing.Argument{{Name: "request", Value: req}},
		}
		call := func(ctx context.Context) (interface{}, error) {
			return handler(ctx, req)
		}

		if !manager.Options().IsEnabled || !manager.Policy().IsServiceAudited(service, method) {
			return auditing.Call(ctx, manager, inv, call)
		}

		ctx, scope := manager.BeginScope(ctx)
		defer scope.Close()

		resp, err := auditing.Call(ctx, manager, inv, call)
		scope.SetExtraProperty(CodeProperty, status.Code(err).String())
		return resp, err
	}
}

// SplitMethod splits "/pkg.Service/Method" into service and method
func SplitMethod(fullMethod string) (service, method string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "unknown", name
}

func withRequestID(ctx context.Context) context.Context {
	if _, ok := contextkeys.RequestID(ctx); ok {
		return ctx
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	if ids := md.Get(requestIDKey); len(ids) > 0 && ids[0] != "" {
		return contextkeys.WithRequestID(ctx, ids[0])
	}
	return ctx
}
