// Package token manages Xero OAuth2 token sets: the authorization code
// exchange, refreshing with a single-use refresh token, revocation,
// tenant (connection) listing and the decoding of identity claims.
package token

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rorycl/xeroinvoiceserver/apierror"
	"golang.org/x/oauth2"
)

// XeroAuthURL is the Xero authorization url
const XeroAuthURL string = "https://login.xero.com/identity/connect/authorize"

// XeroTokenURL is the Xero token receipt url
const XeroTokenURL string = "https://identity.xero.com/connect/token"

// XeroTenantURL is the Xero tenant endpoint
const XeroTenantURL = "https://api.xero.com/connections"

// XeroRevokeURL is the Xero revocation endpoint
const XeroRevokeURL = "https://identity.xero.com/connect/revocation"

// XeroIssuer is the OpenID Connect issuer of Xero identity tokens
const XeroIssuer = "https://identity.xero.com"

// DefaultExpirySecs is the number of seconds before the access token
// expiry at which the token is treated as expired
const DefaultExpirySecs int = 60

// DefaultTimeout bounds each call to the authorization server
const DefaultTimeout = 10 * time.Second

// DefaultScopes are the scopes requested by the consent flow
var DefaultScopes = []string{
	"openid",
	"profile",
	"email",
	"accounting.settings",
	"accounting.reports.read",
	"accounting.journals.read",
	"accounting.contacts",
	"accounting.attachments",
	"accounting.transactions",
	"offline_access",
}

// Set is the bundle of tokens issued by the Xero authorization server.
// Xero refresh tokens are single use, so a Set is always replaced
// wholesale after a refresh.
type Set struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// IsZero reports whether the set holds no access token
func (s Set) IsZero() bool {
	return s.AccessToken == ""
}

// Expired reports whether the access token is expired at now, allowing
// DefaultExpirySecs of latitude
func (s Set) Expired(now time.Time) bool {
	latitude := time.Duration(DefaultExpirySecs) * time.Second
	return !s.Expiry.Add(-latitude).After(now)
}

// String represents a Set for printing without revealing the tokens
func (s Set) String() string {
	tpl := `
access_token   %s
expiry         %s
refresh_token  %s
scopes         %v
`
	return fmt.Sprintf(
		tpl,
		mask(s.AccessToken),
		s.Expiry.UTC(),
		mask(s.RefreshToken),
		s.Scopes,
	)
}

func mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Options configure a Client. Empty urls default to the Xero endpoints.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	TenantURL    string
	RevokeURL    string
	Timeout      time.Duration
	Verifier     IDTokenVerifier
}

// Client is the OAuth2 client for the Xero authorization server. It
// holds no token state; token sets are owned by sessions.
type Client struct {
	config     *oauth2.Config
	tenantURL  string
	revokeURL  string
	httpClient *http.Client
	verifier   IDTokenVerifier
}

// NewClient returns a new Client after checking its options
func NewClient(o Options) (*Client, error) {

	_, err := url.ParseRequestURI(o.RedirectURL)
	if err != nil {
		return nil, errors.New("redirect url invalid")
	}
	if o.ClientID == "" || o.ClientSecret == "" {
		return nil, errors.New("client id or secret is empty")
	}
	if len(o.Scopes) < 1 {
		return nil, errors.New("scopes cannot be empty")
	}
	if o.AuthURL == "" {
		o.AuthURL = XeroAuthURL
	}
	if o.TokenURL == "" {
		o.TokenURL = XeroTokenURL
	}
	if o.TenantURL == "" {
		o.TenantURL = XeroTenantURL
	}
	if o.RevokeURL == "" {
		o.RevokeURL = XeroRevokeURL
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}

	return &Client{
		config: &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURL,
			Scopes:       o.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   o.AuthURL,
				TokenURL:  o.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		tenantURL:  o.TenantURL,
		revokeURL:  o.RevokeURL,
		httpClient: &http.Client{Timeout: o.Timeout},
		verifier:   o.Verifier,
	}, nil
}

// AuthURL returns the consent url which is the beginning of the
// authorization process. state must be checked against the state
// returned to the callback.
func (c *Client) AuthURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// oauthContext makes the oauth2 package use the client's bounded http
// client
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Exchange swaps an authorization code for a token set. Any failure is
// a CallbackExchangeFailed; codes are single use so nothing is retried.
func (c *Client) Exchange(ctx context.Context, code string) (Set, error) {
	if strings.TrimSpace(code) == "" {
		return Set{}, apierror.New(apierror.CallbackExchangeFailed, "no code to exchange")
	}
	tok, err := c.config.Exchange(c.oauthContext(ctx), strings.TrimSpace(code))
	if err != nil {
		return Set{}, apierror.Wrap(apierror.CallbackExchangeFailed, err, "code exchange failed")
	}
	s, err := fromOAuth2(tok)
	if err != nil {
		return Set{}, apierror.Wrap(apierror.CallbackExchangeFailed, err, "code exchange failed")
	}
	if err := c.verify(ctx, s); err != nil {
		return Set{}, err
	}
	return s, nil
}

// Refresh uses a refresh token to retrieve a new token set. The refresh
// token is invalidated by Xero on use; callers must persist the
// returned set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Set, error) {
	if refreshToken == "" {
		return Set{}, apierror.New(apierror.RefreshFailed, "no refresh token")
	}
	src := c.config.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Set{}, classify(err, apierror.RefreshFailed, "token refresh failed")
	}
	s, err := fromOAuth2(tok)
	if err != nil {
		return Set{}, apierror.Wrap(apierror.RefreshFailed, err, "token refresh failed")
	}
	if err := c.verify(ctx, s); err != nil {
		return Set{}, err
	}
	return s, nil
}

// Revoke revokes a refresh token and all its connections
// see https://developer.xero.com/documentation/guides/oauth2/auth-flow#revoking-tokens
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {

	if refreshToken == "" {
		return errors.New("no refresh token to revoke")
	}

	form := url.Values{}
	form.Add("token", refreshToken)
	req, err := http.NewRequestWithContext(ctx, "POST", c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.config.ClientID), url.QueryEscape(c.config.ClientSecret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err, apierror.UpstreamUnavailable, "revoke failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newHTTPClientError(resp)
	}
	return nil
}

func (c *Client) verify(ctx context.Context, s Set) error {
	if c.verifier == nil || s.IDToken == "" {
		return nil
	}
	return c.verifier.Verify(ctx, s.IDToken)
}

// fromOAuth2 converts an oauth2 token, rejecting incomplete responses
func fromOAuth2(t *oauth2.Token) (Set, error) {
	if t == nil || t.AccessToken == "" || t.RefreshToken == "" || t.Expiry.IsZero() {
		return Set{}, errors.New("empty response received from server")
	}
	s := Set{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry.UTC(),
	}
	if id, ok := t.Extra("id_token").(string); ok {
		s.IDToken = id
	}
	if scope, ok := t.Extra("scope").(string); ok && scope != "" {
		s.Scopes = strings.Fields(scope)
	}
	return s, nil
}

// classify sorts a transport or token endpoint error into a kind. A
// rejection by the token endpoint is reported as rejected.
func classify(err error, rejected apierror.Kind, msg string) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return apierror.Wrap(rejected, err, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.Wrap(apierror.UpstreamTimeout, err, msg)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return apierror.Wrap(apierror.UpstreamTimeout, err, msg)
	}
	return apierror.Wrap(apierror.UpstreamUnavailable, err, msg)
}
