package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/token"
	"github.com/rorycl/xeroinvoiceserver/token/tokentest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTenants(t *testing.T) token.Tenants {
	t.Helper()
	var ts token.Tenants
	require.NoError(t, json.Unmarshal([]byte(tokentest.TenantsJSON), &ts))
	return ts
}

func TestTransitions(t *testing.T) {
	now := time.Date(2024, 3, 28, 10, 0, 0, 0, time.UTC)

	s := New("s-1", now)
	assert.Equal(t, Unauthenticated, s.State)

	connecting := s.WithConsentIssued("abc", now)
	assert.Equal(t, Connecting, connecting.State)
	assert.Equal(t, "abc", connecting.OAuthState)
	assert.Equal(t, Unauthenticated, s.State, "transitions do not mutate the receiver")

	set := tokentest.NewSet("rt-1", now.Add(30*time.Minute))
	authed, err := connecting.WithTokens(set, now)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, authed.State)
	assert.Equal(t, "", authed.OAuthState)
	assert.Equal(t, "user-1", authed.Claims.Subject)
	assert.Equal(t, "maple@example.com", authed.Claims.Email)

	bound := authed.WithTenants(testTenants(t), now)
	tenant, err := bound.ActiveTenant()
	require.NoError(t, err)
	assert.Equal(t, tokentest.FirstTenantID, tenant)

	later := now.Add(time.Hour)
	refreshed, err := bound.WithRefreshedToken(tokentest.NewSet("rt-2", later.Add(30*time.Minute)), later)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", refreshed.Tokens.RefreshToken)
	assert.Len(t, refreshed.Tenants, 3, "refresh keeps the tenant binding")
	assert.Equal(t, later, refreshed.Updated)
	assert.Equal(t, "rt-1", bound.Tokens.RefreshToken)

	reconnected, err := refreshed.WithTokens(tokentest.NewSet("rt-3", later), later)
	require.NoError(t, err)
	assert.Empty(t, reconnected.Tenants, "a new connection drops old tenants")

	gone := refreshed.WithUser("maple@example.com", later).Disconnected(later)
	assert.Equal(t, Disconnected, gone.State)
	assert.True(t, gone.Tokens.IsZero())
	assert.Empty(t, gone.Tenants)
	assert.Equal(t, "maple@example.com", gone.UserEmail)

	_, err = gone.ActiveTenant()
	assert.Equal(t, apierror.NoTenantConnected, apierror.KindOf(err))
}

func TestWithTokensMalformed(t *testing.T) {
	now := time.Now()
	s := New("s-1", now).WithConsentIssued("abc", now)

	_, err := s.WithTokens(token.Set{AccessToken: "not.a.jwt", RefreshToken: "rt", Expiry: now}, now)
	assert.Equal(t, apierror.MalformedToken, apierror.KindOf(err))
}

func TestResolveActiveTenant(t *testing.T) {
	_, err := ResolveActiveTenant(nil)
	assert.Equal(t, apierror.NoTenantConnected, apierror.KindOf(err))

	_, err = ResolveActiveTenant(token.Tenants{})
	assert.Equal(t, apierror.NoTenantConnected, apierror.KindOf(err))

	id, err := ResolveActiveTenant(token.Tenants{{TenantID: "t1"}, {TenantID: "t2"}})
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
}

func TestSessionJSON(t *testing.T) {
	now := time.Date(2024, 3, 28, 10, 0, 0, 0, time.UTC)
	s, err := New("s-1", now).WithTokens(tokentest.NewSet("rt-1", now.Add(time.Hour)), now)
	require.NoError(t, err)
	s = s.WithTenants(testTenants(t), now).WithUser("maple@example.com", now)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	var got Session
	require.NoError(t, json.Unmarshal(b, &got))

	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.State, got.State)
	assert.Equal(t, s.Tokens.RefreshToken, got.Tokens.RefreshToken)
	assert.True(t, s.Tokens.Expiry.Equal(got.Tokens.Expiry))
	assert.Equal(t, s.Tenants.IDs(), got.Tenants.IDs())
	assert.Equal(t, s.Claims.Subject, got.Claims.Subject)
}
