package auth

import (
	"context"
)

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey int

const (
	decisionKey ctxKey = iota // stores *Decision
)

// DecisionFromContext retrieves the authenticated decision from context.
// Returns nil if the request did not pass through Middleware.
func DecisionFromContext(ctx context.Context) *Decision {
	if v := ctx.Value(decisionKey); v != nil {
		if d, ok := v.(*Decision); ok {
			return d
		}
	}
	return nil
}

// WithDecision adds an authenticated decision to the context.
func WithDecision(ctx context.Context, d *Decision) context.Context {
	return context.WithValue(ctx, decisionKey, d)
}
