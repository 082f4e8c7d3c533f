package shared

import (
	"context"

	"github.com/google/uuid"
)

type orgContextKey struct{}

// ContextWithOrg stores the organization id in context.
func ContextWithOrg(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, orgContextKey{}, orgID)
}

// OrgFromContext extracts the organization id from context.
// The zero UUID means no organization was resolved.
func OrgFromContext(ctx context.Context) uuid.UUID {
	orgID, _ := ctx.Value(orgContextKey{}).(uuid.UUID)
	return orgID
}
