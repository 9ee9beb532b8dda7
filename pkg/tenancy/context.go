package tenancy

import "context"

type ctxKey struct{}

// Scope carries the resolved caller and, for project routes, the project
// through request context.
type Scope struct {
	ProjectID string
	Actor     string
	Role      string
}

// WithScope returns a new context with the given Scope attached.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// ScopeFromContext retrieves the Scope from the context.
// Returns the zero value and false if none is set.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}

// ProjectIDFromContext returns the resolved project id, or "".
func ProjectIDFromContext(ctx context.Context) string {
	s, _ := ScopeFromContext(ctx)
	return s.ProjectID
}

// ActorFromContext returns the caller identity, falling back to
// DefaultActor.
func ActorFromContext(ctx context.Context) string {
	s, ok := ScopeFromContext(ctx)
	if !ok || s.Actor == "" {
		return DefaultActor
	}
	return s.Actor
}
