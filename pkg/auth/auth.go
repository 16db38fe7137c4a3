// Package auth resolves bearer tokens through an external OAuth token
// introspection endpoint and checks the resulting capabilities.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/frostline/updated/pkg/apperr"
)

// Capabilities required by the management API.
const (
	RoleEdit = "update:edit"
	RoleView = "update:view"
)

// Config locates the introspection endpoint and the client credentials
// it expects.
type Config struct {
	IntrospectionURL string
	ClientID         string
	ClientSecret     string
}

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the identity carries the given capability.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Introspect(ctx context.Context, token string) (*Identity, error)
}

// Introspector is the RFC 7662 introspection client. Transient endpoint
// failures are retried with backoff before being reported as a
// dependency error.
type Introspector struct {
	cfg    Config
	client *retryablehttp.Client
}

// NewIntrospector builds the introspection client.
func NewIntrospector(cfg Config) *Introspector {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil
	return &Introspector{cfg: cfg, client: client}
}

// introspectionResponse is the subset of the endpoint's reply we use.
// Roles may arrive either as a dedicated claim or inside the
// space-separated scope string.
type introspectionResponse struct {
	Active bool     `json:"active"`
	Sub    string   `json:"sub"`
	Scope  string   `json:"scope"`
	Roles  []string `json:"roles"`
}

// Introspect validates the token at the endpoint and returns the
// caller's identity. Inactive tokens are an authentication error,
// endpoint trouble a dependency error.
func (a *Introspector) Introspect(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, apperr.Unauthenticated("missing bearer token")
	}

	form := url.Values{"token": {token}}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.IntrospectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperr.Internal("build introspection request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperr.Dependency("token introspection", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Dependency("token introspection",
			fmt.Errorf("endpoint replied %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Dependency("token introspection", err)
	}
	var ir introspectionResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, apperr.Dependency("token introspection", err)
	}
	if !ir.Active {
		return nil, apperr.Unauthenticated("token is not active")
	}

	roles := append([]string(nil), ir.Roles...)
	for _, s := range strings.Fields(ir.Scope) {
		roles = append(roles, s)
	}
	return &Identity{Subject: ir.Sub, Roles: roles}, nil
}

// Require returns the identity behind the token if it carries the
// role; otherwise an authentication or permission error.
func Require(ctx context.Context, v Verifier, token, role string) (*Identity, error) {
	id, err := v.Introspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if !id.HasRole(role) {
		return nil, apperr.PermissionDenied("requires the %s role", role)
	}
	return id, nil
}
