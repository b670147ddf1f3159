// Package requestctx carries caller identity through request contexts.
package requestctx

import (
	"context"
	"strings"
)

type adminIDContextKey struct{}

// WithAdminID stores the acting administrator identifier in context.
func WithAdminID(ctx context.Context, adminID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, adminIDContextKey{}, strings.TrimSpace(adminID))
}

// AdminIDFromContext returns the administrator identifier stored in context.
func AdminIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(adminIDContextKey{}).(string)
	return value
}
