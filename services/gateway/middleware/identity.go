package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

// Identity is established by the edge proxy, which authenticates callers
// and forwards these headers. The gateway trusts them as-is.
const (
	HeaderActorID    = "X-Actor-Id"
	HeaderActorRoles = "X-Actor-Roles"
)

type identityKey struct{}

// WithIdentity extracts the caller identity from request headers and stores
// it on the context. Requests without headers proceed as anonymous.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id domain.Identity
		if subject := strings.TrimSpace(r.Header.Get(HeaderActorID)); subject != "" {
			id = domain.Identity{Subject: subject}
			if raw := r.Header.Get(HeaderActorRoles); raw != "" {
				for _, role := range strings.Split(raw, ",") {
					if role = strings.TrimSpace(role); role != "" {
						id.Roles = append(id.Roles, role)
					}
				}
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// IdentityFrom returns the caller identity stored by WithIdentity. A
// context without one yields the zero (anonymous) identity.
func IdentityFrom(ctx context.Context) domain.Identity {
	if id, ok := ctx.Value(identityKey{}).(domain.Identity); ok {
		return id
	}
	return domain.Identity{}
}
