package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/metrics"
	"github.com/rorycl/xeroinvoiceserver/randstring"
	"github.com/rorycl/xeroinvoiceserver/token"
	"github.com/rorycl/xeroinvoiceserver/xero"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// stateLength is the length of the oauth state parameter
const stateLength = 32

// OAuthClient is the part of token.Client the manager uses
type OAuthClient interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (token.Set, error)
	Refresh(ctx context.Context, refreshToken string) (token.Set, error)
	Revoke(ctx context.Context, refreshToken string) error
	Tenants(ctx context.Context, accessToken string) (token.Tenants, error)
}

var _ OAuthClient = (*token.Client)(nil)

// TokenSaver keeps a copy of a token set on a local user record
type TokenSaver interface {
	AttachTokenSet(ctx context.Context, email string, set token.Set) error
}

// Manager runs the token lifecycle of sessions held in a Store.
//
// Refreshes are serialized per session id: Xero refresh tokens are
// single use, so of several requests finding the same expired token only
// one may call the token endpoint. The others wait for, and share, its
// result. The serialization is per process; several processes sharing a
// redis store can still race.
type Manager struct {
	oauth   OAuthClient
	store   Store
	saver   TokenSaver
	metrics *metrics.Metrics
	now     func() time.Time
	flight  singleflight.Group
}

// Option configures a Manager
type Option func(*Manager)

// WithTokenSaver copies new token sets to the session's local user
func WithTokenSaver(s TokenSaver) Option {
	return func(m *Manager) { m.saver = s }
}

// WithMetrics counts refreshes
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager
func NewManager(oauth OAuthClient, store Store, opts ...Option) *Manager {
	m := &Manager{oauth: oauth, store: store, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start creates and stores a new unauthenticated session
func (m *Manager) Start(ctx context.Context) (Session, error) {
	s := New(uuid.NewString(), m.now().UTC())
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a stored session. Unknown sessions are Unauthenticated.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, apierror.New(apierror.Unauthenticated, "no session")
	}
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Session{}, apierror.Wrap(apierror.Unauthenticated, err, "session not found or expired")
	}
	return s, err
}

// BuildConsentURL returns the Xero consent url for the session, recording
// the state parameter the callback must return
func (m *Manager) BuildConsentURL(ctx context.Context, id string) (string, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	state := randstring.RandString(stateLength)
	if err := m.store.Put(ctx, s.WithConsentIssued(state, m.now().UTC())); err != nil {
		return "", err
	}
	return m.oauth.AuthURL(state), nil
}

// CompleteConsentCallback exchanges the code of a consent callback for a
// token set and binds the connection's tenants to the session. Failures
// are not retried; the consent flow must be restarted. A connection with
// no tenants is stored but reported as NoTenantConnected.
func (m *Manager) CompleteConsentCallback(ctx context.Context, id string, callback *url.URL) (token.Set, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return token.Set{}, apierror.Wrap(apierror.Forbidden, err, "no consent flow in progress")
	}

	q := callback.Query()
	if e := q.Get("error"); e != "" {
		msg := e
		if d := q.Get("error_description"); d != "" {
			msg += ": " + d
		}
		return token.Set{}, apierror.New(apierror.CallbackExchangeFailed, msg)
	}
	// the issued state alone marks a flow in progress; a refresh of an
	// existing connection may have run since /connect
	if s.OAuthState == "" ||
		subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(s.OAuthState)) != 1 {
		return token.Set{}, apierror.New(apierror.Forbidden, "state mismatch")
	}

	set, err := m.oauth.Exchange(ctx, q.Get("code"))
	if err != nil {
		return token.Set{}, err
	}
	now := m.now().UTC()
	s, err = s.WithTokens(set, now)
	if err != nil {
		return token.Set{}, err
	}
	tenants, err := m.oauth.Tenants(ctx, set.AccessToken)
	if err != nil {
		return token.Set{}, apierror.Wrap(apierror.CallbackExchangeFailed, err, "tenant lookup failed")
	}
	s = s.WithTenants(tenants, now)
	if err := m.store.Put(ctx, s); err != nil {
		return token.Set{}, err
	}
	m.save(ctx, s)

	log.Info().Str("session", s.ID).Str("subject", s.Claims.Subject).Int("tenants", len(tenants)).Msg("xero connected")
	if _, err := s.ActiveTenant(); err != nil {
		return set, err
	}
	return set, nil
}

// EnsureValidToken returns the session's token set, refreshing it first
// if it has expired
func (m *Manager) EnsureValidToken(ctx context.Context, id string) (token.Set, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return token.Set{}, err
	}
	if s.Tokens.IsZero() {
		return token.Set{}, apierror.New(apierror.Unauthenticated, "not connected to xero")
	}
	if !s.Tokens.Expired(m.now()) {
		return s.Tokens, nil
	}

	// the refresh outlives a cancelled caller so that a consumed refresh
	// token is never left unsaved
	ch := m.flight.DoChan(id, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return token.Set{}, apierror.Wrap(apierror.UpstreamTimeout, ctx.Err(), "waiting for token refresh")
	case res := <-ch:
		if res.Err != nil {
			return token.Set{}, res.Err
		}
		return res.Val.(token.Set), nil
	}
}

// refresh runs inside the session's flight. The session is re-read since
// a flight that finished after this caller's first read may already have
// refreshed it.
func (m *Manager) refresh(ctx context.Context, id string) (token.Set, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return token.Set{}, err
	}
	if s.Tokens.IsZero() {
		return token.Set{}, apierror.New(apierror.Unauthenticated, "not connected to xero")
	}
	if !s.Tokens.Expired(m.now()) {
		return s.Tokens, nil
	}

	set, err := m.oauth.Refresh(ctx, s.Tokens.RefreshToken)
	if err == nil {
		s, err = s.WithRefreshedToken(set, m.now().UTC())
	}
	if err != nil {
		m.metrics.TokenRefresh("failed")
		if k := apierror.KindOf(err); k == apierror.RefreshFailed || k == apierror.MalformedToken {
			log.Warn().Err(err).Str("session", id).Msg("refresh failed, session disconnected")
			if perr := m.store.Put(ctx, s.Disconnected(m.now().UTC())); perr != nil {
				log.Error().Err(perr).Str("session", id).Msg("could not save disconnected session")
			}
			return token.Set{}, apierror.Wrap(apierror.RefreshFailed, err, "xero connection expired, please reconnect")
		}
		return token.Set{}, err
	}

	if err := m.store.Put(ctx, s); err != nil {
		return token.Set{}, err
	}
	m.save(ctx, s)
	m.metrics.TokenRefresh("ok")
	log.Debug().Str("session", id).Time("expiry", set.Expiry).Msg("token refreshed")
	return set, nil
}

// Connection returns the context a gateway call is made with: a valid
// access token and the active tenant
func (m *Manager) Connection(ctx context.Context, id string) (xero.Conn, error) {
	set, err := m.EnsureValidToken(ctx, id)
	if err != nil {
		return xero.Conn{}, err
	}
	s, err := m.Get(ctx, id)
	if err != nil {
		return xero.Conn{}, err
	}
	tenant, err := s.ActiveTenant()
	if err != nil {
		return xero.Conn{}, err
	}
	return xero.Conn{AccessToken: set.AccessToken, TenantID: tenant}, nil
}

// RefreshTenants reloads the tenants of the session's connection
func (m *Manager) RefreshTenants(ctx context.Context, id string) (token.Tenants, error) {
	set, err := m.EnsureValidToken(ctx, id)
	if err != nil {
		return nil, err
	}
	tenants, err := m.oauth.Tenants(ctx, set.AccessToken)
	if err != nil {
		return nil, err
	}
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, s.WithTenants(tenants, m.now().UTC())); err != nil {
		return nil, err
	}
	return tenants, nil
}

// BindUser signs a local user into the session. A session bound to a
// different user is disconnected first. A token set saved on the user's
// record reconnects a session that has none.
func (m *Manager) BindUser(ctx context.Context, id, email string, saved *token.Set) (Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	if s.UserEmail != "" && s.UserEmail != email {
		// never hand one user's xero connection to another
		s = s.Disconnected(now)
	}
	s = s.WithUser(email, now)

	restore := saved != nil && !saved.IsZero() && s.Tokens.IsZero()
	if restore {
		if rs, err := s.WithTokens(*saved, now); err == nil {
			s = rs
		} else {
			log.Warn().Err(err).Str("email", email).Msg("saved token set not usable")
			restore = false
		}
	}
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	if restore {
		if _, err := m.RefreshTenants(ctx, id); err != nil {
			log.Warn().Err(err).Str("email", email).Msg("saved connection could not be restored")
		}
	}
	return m.Get(ctx, id)
}

// SignOut revokes the session's refresh token, clears the token set
// saved on its local user and deletes the session. Revoke errors are
// logged and otherwise ignored.
func (m *Manager) SignOut(ctx context.Context, id string) error {
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rt := s.Tokens.RefreshToken; rt != "" {
		if err := m.oauth.Revoke(ctx, rt); err != nil {
			log.Debug().Err(err).Str("session", id).Msg("revoke failed")
		}
	}
	// a revoked set must not be restored at the next sign in
	m.save(ctx, s.Disconnected(m.now().UTC()))
	return m.store.Delete(ctx, id)
}

// save copies the session's token set to its local user, if any
func (m *Manager) save(ctx context.Context, s Session) {
	if m.saver == nil || s.UserEmail == "" {
		return
	}
	if err := m.saver.AttachTokenSet(ctx, s.UserEmail, s.Tokens); err != nil {
		log.Warn().Err(err).Str("email", s.UserEmail).Msg("token set not saved to user")
	}
}
