package api

import (
	"context"
	"net/http"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/auth"
	"github.com/maroonops/signal-console/internal/policy"
)

type contextKey string

const operatorKey contextKey = "operator"

// OperatorFrom returns the resolved operator stored by the endpoint
// gate, or nil outside a gated handler.
func OperatorFrom(ctx context.Context) *auth.Operator {
	op, _ := ctx.Value(operatorKey).(*auth.Operator)
	return op
}

// gate resolves the caller and enforces the endpoint's role policy
// before delegating. Handlers behind a gate can rely on OperatorFrom
// returning a non-nil operator.
func (h *Handler) gate(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, aerr := h.resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
		if aerr != nil {
			writeError(w, h.log, aerr)
			return
		}
		if !roleSetAllowed(h.policy, op.Roles, endpoint) {
			writeError(w, h.log, apierr.Forbidden(apierr.CodeRoleNotAllowed,
				"Role %s is not allowed for %s.", op.Role, endpoint).
				WithMeta("allowed_roles", h.policy.EndpointRoles(endpoint)))
			return
		}
		ctx := context.WithValue(r.Context(), operatorKey, op)
		next(w, r.WithContext(ctx))
	}
}

// roleSetAllowed admits the caller if any held role passes the
// endpoint policy.
func roleSetAllowed(pol *policy.Policy, roles []policy.Role, endpoint string) bool {
	for _, role := range roles {
		if pol.IsEndpointAllowed(role, endpoint) {
			return true
		}
	}
	return false
}
