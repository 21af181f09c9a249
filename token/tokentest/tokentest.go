// Package tokentest provides a fake Xero identity server and token
// helpers for tests.
package tokentest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rorycl/xeroinvoiceserver/token"
)

// ClientID and ClientSecret are accepted by Server
const (
	ClientID     = "XXXXXclientidXXXXX"
	ClientSecret = "XXXXXclientsecretXXXXX"
	RedirectURL  = "http://127.0.0.1:5001/callback"
)

// TenantsJSON is the tenants example from the Xero documentation at
// https://developer.xero.com/documentation/guides/oauth2/auth-flow#5-check-the-tenants-youre-authorized-to-access
const TenantsJSON = `
[
    {
        "id": "e1eede29-f875-4a5d-8470-17f6a29a88b1",
        "authEventId": "d99ecdfe-391d-43d2-b834-17636ba90e8d",
        "tenantId": "70784a63-d24b-46a9-a4db-0e70a274b056",
        "tenantType": "ORGANISATION",
        "tenantName": "Maple Florist",
        "createdDateUtc": "2019-07-09T23:40:30.1833130",
        "updatedDateUtc": "2020-05-15T01:35:13.8491980"
    },
    {
        "id": "32587c85-a9b3-4306-ac30-b416e8f2c841",
        "authEventId": "d0ddcf81-f942-4f4d-b3c7-f98045204db4",
        "tenantId": "e0da6937-de07-4a14-adee-37abfac298ce",
        "tenantType": "ORGANISATION",
        "tenantName": "Adam Demo Company (NZ)",
        "createdDateUtc": "2020-03-23T02:24:22.2328510",
        "updatedDateUtc": "2020-05-13T09:43:40.7689720"
    },
    {
        "id": "74305bf3-12e0-45e2-8dc8-e3ec73e3b1f9",
        "authEventId": "d0ddcf81-f942-4f4d-b3c7-f98045204db4",
        "tenantId": "c3d5e782-2153-4cda-bdb4-cec791ceb90d",
        "tenantType": "PRACTICEMANAGER",
        "tenantName": null,
        "createdDateUtc": "2020-01-30T01:33:36.2717380",
        "updatedDateUtc": "2020-02-02T19:21:08.5739590"
    }
]
`

// FirstTenantID is the tenantId of the first entry of TenantsJSON
const FirstTenantID = "70784a63-d24b-46a9-a4db-0e70a274b056"

var signingKey = []byte("tokentest")

// JWT returns an HS256 signed token carrying claims
func JWT(claims jwt.MapClaims) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return s
}

// AccessToken returns a Xero style access token for subject
func AccessToken(subject string, expiry time.Time) string {
	return JWT(jwt.MapClaims{
		"sub":                     subject,
		"exp":                     expiry.Unix(),
		"client_id":               ClientID,
		"xero_userid":             "xu-" + subject,
		"authentication_event_id": "ae-" + subject,
		"scope":                   []string{"openid", "email", "accounting.transactions", "offline_access"},
	})
}

// IDToken returns a Xero style identity token for subject
func IDToken(subject, email string) string {
	return JWT(jwt.MapClaims{
		"sub":         subject,
		"exp":         time.Now().Add(5 * time.Minute).Unix(),
		"email":       email,
		"given_name":  "Maple",
		"family_name": "Florist",
		"sid":         "sid-" + subject,
		"xero_userid": "xu-" + subject,
	})
}

// NewSet returns a decodable token set expiring at expiry
func NewSet(refreshToken string, expiry time.Time) token.Set {
	return token.Set{
		AccessToken:  AccessToken("user-1", expiry),
		RefreshToken: refreshToken,
		IDToken:      IDToken("user-1", "maple@example.com"),
		TokenType:    "Bearer",
		Expiry:       expiry,
		Scopes:       []string{"openid", "email", "offline_access"},
	}
}

// Server is a fake Xero identity and connections server. Codes and
// refresh tokens are single use, as they are at Xero.
type Server struct {
	*httptest.Server

	// Delay is applied to each refresh grant
	Delay time.Duration
	// Tenants is served by the connections endpoint
	Tenants string
	// ExpiresIn is the lifetime in seconds of issued access tokens
	ExpiresIn int

	mu            sync.Mutex
	codes         map[string]bool
	refreshTokens map[string]bool
	revoked       []string
	refreshCalls  int
	exchangeCalls int
	seq           int
}

// NewServer starts a fake server; callers must Close it
func NewServer() *Server {
	s := &Server{
		Tenants:       TenantsJSON,
		ExpiresIn:     1800,
		codes:         map[string]bool{},
		refreshTokens: map[string]bool{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/connections", s.handleConnections)
	mux.HandleFunc("/revoke", s.handleRevoke)
	s.Server = httptest.NewServer(mux)
	return s
}

// Options returns client options pointing at the server
func (s *Server) Options() token.Options {
	return token.Options{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RedirectURL:  RedirectURL,
		Scopes:       []string{"openid", "email", "offline_access", "accounting.transactions"},
		AuthURL:      s.URL + "/authorize",
		TokenURL:     s.URL + "/token",
		TenantURL:    s.URL + "/connections",
		RevokeURL:    s.URL + "/revoke",
		Timeout:      2 * time.Second,
	}
}

// AddCode registers a valid authorization code
func (s *Server) AddCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = true
}

// AddRefreshToken registers a valid refresh token
func (s *Server) AddRefreshToken(rt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[rt] = true
}

// RefreshCalls reports the number of refresh grants received
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// ExchangeCalls reports the number of authorization code grants received
func (s *Server) ExchangeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls
}

// Revoked returns the revoked refresh tokens
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		writeGrantError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeGrantError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCalls++
		code := r.PostForm.Get("code")
		if !s.codes[code] {
			s.mu.Unlock()
			writeGrantError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.codes, code)
	case "refresh_token":
		s.refreshCalls++
		rt := r.PostForm.Get("refresh_token")
		if !s.refreshTokens[rt] {
			s.mu.Unlock()
			writeGrantError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.refreshTokens, rt)
	default:
		s.mu.Unlock()
		writeGrantError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	s.seq++
	n := s.seq
	newRefresh := fmt.Sprintf("rt-%d", n)
	s.refreshTokens[newRefresh] = true
	delay := s.Delay
	s.mu.Unlock()

	if r.PostForm.Get("grant_type") == "refresh_token" && delay > 0 {
		time.Sleep(delay)
	}

	subject := fmt.Sprintf("user-%d", n)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  AccessToken(subject, time.Now().Add(time.Duration(s.ExpiresIn)*time.Second)),
		"refresh_token": newRefresh,
		"id_token":      IDToken(subject, "maple@example.com"),
		"expires_in":    s.ExpiresIn,
		"token_type":    "Bearer",
		"scope":         "openid email offline_access accounting.transactions",
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(s.Tenants))
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	rt := r.PostForm.Get("token")
	delete(s.refreshTokens, rt)
	s.revoked = append(s.revoked, rt)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func writeGrantError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
