package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

func captureIdentity(t *testing.T, req *http.Request) domain.Identity {
	t.Helper()
	var got domain.Identity
	h := WithIdentity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = IdentityFrom(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestWithIdentity_HeadersParsed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "alice")
	req.Header.Set(HeaderActorRoles, "admin, operator")

	id := captureIdentity(t, req)

	assert.Equal(t, "alice", id.Subject)
	assert.Equal(t, []string{"admin", "operator"}, id.Roles)
	assert.True(t, id.IsAdmin())
}

func TestWithIdentity_MissingHeadersIsAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	id := captureIdentity(t, req)

	assert.Empty(t, id.Subject)
	assert.False(t, id.IsAdmin())
}

func TestIdentityFrom_BareContextIsAnonymous(t *testing.T) {
	id := IdentityFrom(context.Background())

	assert.True(t, id.Anonymous())
	assert.Empty(t, id.Subject)
	assert.Empty(t, id.Roles)
}

func TestWithIdentity_RolesWithoutSubjectIgnored(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorRoles, "admin")

	id := captureIdentity(t, req)

	assert.Empty(t, id.Subject)
	assert.Empty(t, id.Roles)
}
