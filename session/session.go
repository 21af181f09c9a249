// Package session holds the server side state of a browser session: its
// Xero token set, the identity decoded from it and the tenants it may act
// on.
//
// A Session is an immutable value. Each transition returns a new Session,
// which the Manager persists to a Store, so the lifecycle
//
//	unauthenticated -> connecting -> authenticated <-> (expired, refreshed)
//	                                      |
//	                                      v
//	                                disconnected -> connecting ...
//
// can be tested without a server.
package session

import (
	"time"

	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/token"
)

// State is the connection state of a session
type State string

// Session states
const (
	Unauthenticated State = "unauthenticated"
	Connecting      State = "connecting"
	Authenticated   State = "authenticated"
	Disconnected    State = "disconnected"
)

// Session is the state of one browser session
type Session struct {
	ID         string        `json:"id"`
	State      State         `json:"state"`
	Tokens     token.Set     `json:"tokens"`
	Claims     token.Claims  `json:"claims"`
	Tenants    token.Tenants `json:"tenants,omitempty"`
	OAuthState string        `json:"oauthState,omitempty"`
	UserEmail  string        `json:"userEmail,omitempty"`
	Created    time.Time     `json:"created"`
	Updated    time.Time     `json:"updated"`
}

// New returns an unauthenticated session
func New(id string, now time.Time) Session {
	return Session{ID: id, State: Unauthenticated, Created: now, Updated: now}
}

// WithConsentIssued records the oauth state parameter of a consent url
// handed to the browser
func (s Session) WithConsentIssued(oauthState string, now time.Time) Session {
	s.State = Connecting
	s.OAuthState = oauthState
	s.Updated = now
	return s
}

// WithTokens binds the token set of a newly completed consent flow,
// dropping any tenants of an earlier connection
func (s Session) WithTokens(set token.Set, now time.Time) (Session, error) {
	s, err := s.WithRefreshedToken(set, now)
	if err != nil {
		return s, err
	}
	s.Tenants = nil
	s.OAuthState = ""
	return s, nil
}

// WithRefreshedToken replaces the token set wholesale and recomputes the
// identity claims. The tenant binding is kept.
func (s Session) WithRefreshedToken(set token.Set, now time.Time) (Session, error) {
	claims, err := token.DecodeClaims(set)
	if err != nil {
		return s, err
	}
	s.State = Authenticated
	s.Tokens = set
	s.Claims = claims
	s.Updated = now
	return s, nil
}

// WithTenants replaces the tenant binding
func (s Session) WithTenants(ts token.Tenants, now time.Time) Session {
	s.Tenants = append(token.Tenants(nil), ts...)
	s.Updated = now
	return s
}

// WithUser binds a local user account
func (s Session) WithUser(email string, now time.Time) Session {
	s.UserEmail = email
	s.Updated = now
	return s
}

// Disconnected drops the connection to Xero. The local user, if any,
// stays signed in.
func (s Session) Disconnected(now time.Time) Session {
	s.State = Disconnected
	s.Tokens = token.Set{}
	s.Claims = token.Claims{}
	s.Tenants = nil
	s.OAuthState = ""
	s.Updated = now
	return s
}

// ActiveTenant returns the tenant calls are made against
func (s Session) ActiveTenant() (string, error) {
	return ResolveActiveTenant(s.Tenants)
}

// ResolveActiveTenant selects the first tenant, which Xero lists most
// recently connected first
func ResolveActiveTenant(ts token.Tenants) (string, error) {
	if len(ts) == 0 {
		return "", apierror.New(apierror.NoTenantConnected, "no xero organisation is connected")
	}
	return ts[0].TenantID, nil
}
