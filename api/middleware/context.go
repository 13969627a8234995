package middleware

import "context"

type contextKey string

const ctxIdentity contextKey = "identity"

// IdentityFromContext returns the identity bound by a verified device token, if any.
func IdentityFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxIdentity).(string); ok {
		return v
	}
	return ""
}

// WithIdentity injects the token identity into the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxIdentity, identity)
}
