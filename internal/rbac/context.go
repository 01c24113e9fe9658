package rbac

import "context"

type decisionContextKey struct{}

// ContextWithDecision stores the resolved decision so handlers can apply its
// attribute filter (field redaction) without re-running the check.
func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// DecisionFromContext extracts the decision stored by the middleware. The
// zero Decision (not granted) is returned when none is present.
func DecisionFromContext(ctx context.Context) Decision {
	d, _ := ctx.Value(decisionContextKey{}).(Decision)
	return d
}
