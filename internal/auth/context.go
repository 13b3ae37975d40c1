// ABOUTME: Request-scoped caller identity
// ABOUTME: WithCaller/FromContext carry the verified subject through handlers

package auth

import "context"

// Caller is the authenticated identity behind a request.
type Caller struct {
	Subject string
}

type callerKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the caller, or nil for unauthenticated requests.
func FromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}
