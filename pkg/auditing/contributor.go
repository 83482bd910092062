package auditing

import (
	"context"

	"github.com/google/uuid"

	"github.com/platinummonkey/auditkit/pkg/contextkeys"
)

// Contributor enriches audit logs. PreContribute runs when the outermost
// scope opens, PostContribute right before the log is saved. Both run while
// the log is locked and must not call back into the scope.
type Contributor interface {
	PreContribute(ctx context.Context, info *AuditLogInfo)
	PostContribute(ctx context.Context, info *AuditLogInfo)
}

// ContributorFuncs adapts plain functions to Contributor. Nil funcs are skipped.
type ContributorFuncs struct {
	Pre  func(ctx context.Context, info *AuditLogInfo)
	Post func(ctx context.Context, info *AuditLogInfo)
}

func (c ContributorFuncs) PreContribute(ctx context.Context, info *AuditLogInfo) {
	if c.Pre != nil {
		c.Pre(ctx, info)
	}
}

func (c ContributorFuncs) PostContribute(ctx context.Context, info *AuditLogInfo) {
	if c.Post != nil {
		c.Post(ctx, info)
	}
}

// IdentityContributor copies user and tenant IDs from the context
func IdentityContributor() Contributor {
	return ContributorFuncs{
		Pre: func(ctx context.Context, info *AuditLogInfo) {
			if v, ok := contextkeys.UserID(ctx); ok {
				info.UserID = v
			}
			if v, ok := contextkeys.TenantID(ctx); ok {
				info.TenantID = v
			}
		},
	}
}

// CorrelationContributor copies the request ID from the context, or
// generates one
func CorrelationContributor() Contributor {
	return ContributorFuncs{
		Pre: func(ctx context.Context, info *AuditLogInfo) {
			if v, ok := contextkeys.RequestID(ctx); ok {
				info.CorrelationID = v
				return
			}
			if info.CorrelationID == "" {
				info.CorrelationID = uuid.NewString()
			}
		},
	}
}
