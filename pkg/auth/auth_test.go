package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostline/updated/pkg/apperr"
)

func newIntrospectionServer(t *testing.T, handler http.HandlerFunc) *Introspector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewIntrospector(Config{
		IntrospectionURL: srv.URL,
		ClientID:         "updated",
		ClientSecret:     "secret",
	})
}

func TestIntrospectActiveToken(t *testing.T) {
	a := newIntrospectionServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "updated", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok-123", r.PostFormValue("token"))

		json.NewEncoder(w).Encode(map[string]any{
			"active": true,
			"sub":    "alice",
			"scope":  "update:view openid",
			"roles":  []string{"update:edit"},
		})
	})

	id, err := a.Introspect(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.True(t, id.HasRole(RoleView))
	assert.True(t, id.HasRole(RoleEdit))
	assert.False(t, id.HasRole("update:admin"))
}

func TestIntrospectInactiveToken(t *testing.T) {
	a := newIntrospectionServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"active": false})
	})

	_, err := a.Introspect(context.Background(), "expired")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestIntrospectMissingToken(t *testing.T) {
	a := NewIntrospector(Config{IntrospectionURL: "http://unused"})

	_, err := a.Introspect(context.Background(), "")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestIntrospectEndpointFailure(t *testing.T) {
	a := newIntrospectionServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	a.client.RetryMax = 0

	_, err := a.Introspect(context.Background(), "tok")
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
}

func TestRequire(t *testing.T) {
	a := newIntrospectionServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"active": true,
			"sub":    "bob",
			"scope":  "update:view",
		})
	})
	ctx := context.Background()

	id, err := Require(ctx, a, "tok", RoleView)
	require.NoError(t, err)
	assert.Equal(t, "bob", id.Subject)

	_, err = Require(ctx, a, "tok", RoleEdit)
	assert.Equal(t, apperr.KindPermissionDenied, apperr.KindOf(err))
}
