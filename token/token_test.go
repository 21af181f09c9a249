package token_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/token"
	"github.com/rorycl/xeroinvoiceserver/token/tokentest"
)

func testOptions() token.Options {
	return token.Options{
		ClientID:     tokentest.ClientID,
		ClientSecret: tokentest.ClientSecret,
		RedirectURL:  tokentest.RedirectURL,
		Scopes:       []string{"openid", "offline_access", "accounting.transactions"},
		Timeout:      2 * time.Second,
	}
}

func TestNewClientErr(t *testing.T) {

	tests := []struct {
		name        string
		input       token.Options
		expectedErr error
	}{
		{
			name:        "empty_redirect",
			input:       token.Options{RedirectURL: "", ClientID: "abc", ClientSecret: "def"},
			expectedErr: errors.New("redirect url invalid"),
		},
		{
			name:        "empty_client",
			input:       token.Options{RedirectURL: "http://xero.com", ClientSecret: "def"},
			expectedErr: errors.New("client id or secret is empty"),
		},
		{
			name:        "empty_secret",
			input:       token.Options{RedirectURL: "http://xero.com/", ClientID: "abc"},
			expectedErr: errors.New("client id or secret is empty"),
		},
		{
			name:        "empty_scopes",
			input:       token.Options{RedirectURL: "http://xero.com/", ClientID: "abc", ClientSecret: "def"},
			expectedErr: errors.New("scopes cannot be empty"),
		},
		{
			name: "ok_scopes",
			input: token.Options{
				RedirectURL:  "http://xero.com/",
				ClientID:     "abc",
				ClientSecret: "def",
				Scopes:       []string{"offline_access", "accounting.transactions"},
			},
			expectedErr: nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := token.NewClient(test.input)
			if test.expectedErr == nil {
				if err != nil {
					t.Errorf("expected (%v), got (%v)", test.expectedErr, err)
				}
			} else if err == nil || err.Error() != test.expectedErr.Error() {
				t.Errorf("expected (%v), got (%v)", test.expectedErr, err)
			}
		})
	}
}

func TestAuthURL(t *testing.T) {
	opts := testOptions()
	opts.AuthURL = "http://127.0.0.1:5000/authorize"
	client, err := token.NewClient(opts)
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(client.AuthURL("abc123"))
	if err != nil {
		t.Errorf("error parsing url from AuthURL: %s", err)
	}

	params := u.Query()
	want := map[string]string{
		"response_type": "code",
		"client_id":     tokentest.ClientID,
		"redirect_uri":  tokentest.RedirectURL,
		"scope":         strings.Join(opts.Scopes, " "),
		"state":         "abc123",
	}
	for k, v := range want {
		if params.Get(k) != v {
			t.Errorf("incorrect %s have(%s) want(%s)", k, params.Get(k), v)
		}
	}
}

func TestExchange(t *testing.T) {
	server := tokentest.NewServer()
	defer server.Close()
	server.AddCode("code-1")

	client, err := token.NewClient(server.Options())
	if err != nil {
		t.Fatal(err)
	}
	s, err := client.Exchange(context.Background(), " code-1 ")
	if err != nil {
		t.Fatalf("error %s", err)
	}
	if s.AccessToken == "" || s.RefreshToken == "" || s.IDToken == "" {
		t.Errorf("token set incomplete: %s", s)
	}
	if s.Expired(time.Now()) {
		t.Errorf("new token set should not be expired: %s", s.Expiry)
	}
	if len(s.Scopes) != 4 {
		t.Errorf("scopes unexpected: %v", s.Scopes)
	}

	// codes are single use
	_, err = client.Exchange(context.Background(), "code-1")
	if !apierror.IsKind(err, apierror.CallbackExchangeFailed) {
		t.Errorf("reused code: unexpected error %v", err)
	}
}

func TestExchangeEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"access_token": "", "refresh_token": "def", "expires_in": 1800}`))
	}))
	defer server.Close()

	opts := testOptions()
	opts.TokenURL = server.URL
	client, _ := token.NewClient(opts)

	_, err := client.Exchange(context.Background(), "abc")
	if !apierror.IsKind(err, apierror.CallbackExchangeFailed) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestExchangeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "ok", "refresh_token": "def", "expires_in": 1800}`))
	}))
	defer server.Close()

	opts := testOptions()
	opts.TokenURL = server.URL
	opts.Timeout = 50 * time.Millisecond
	client, _ := token.NewClient(opts)

	_, err := client.Exchange(context.Background(), "abc")
	if !apierror.IsKind(err, apierror.CallbackExchangeFailed) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRefresh(t *testing.T) {
	server := tokentest.NewServer()
	defer server.Close()
	server.AddRefreshToken("def")

	client, _ := token.NewClient(server.Options())
	s, err := client.Refresh(context.Background(), "def")
	if err != nil {
		t.Fatalf("error %s", err)
	}
	if s.RefreshToken == "def" || s.RefreshToken == "" {
		t.Errorf("refresh token not replaced: %s", s.RefreshToken)
	}
	if server.RefreshCalls() != 1 {
		t.Errorf("refresh calls %d != 1", server.RefreshCalls())
	}

	// the old refresh token is now invalid
	_, err = client.Refresh(context.Background(), "def")
	if !apierror.IsKind(err, apierror.RefreshFailed) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRefreshFailNonInit(t *testing.T) {
	client, _ := token.NewClient(testOptions())
	_, err := client.Refresh(context.Background(), "")
	if !apierror.IsKind(err, apierror.RefreshFailed) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRefreshTimeout(t *testing.T) {
	server := tokentest.NewServer()
	defer server.Close()
	server.AddRefreshToken("def")
	server.Delay = 200 * time.Millisecond

	opts := server.Options()
	opts.Timeout = 50 * time.Millisecond
	client, _ := token.NewClient(opts)

	_, err := client.Refresh(context.Background(), "def")
	if !apierror.IsKind(err, apierror.UpstreamTimeout) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRevoke(t *testing.T) {
	server := tokentest.NewServer()
	defer server.Close()
	server.AddRefreshToken("def")

	client, _ := token.NewClient(server.Options())
	if err := client.Revoke(context.Background(), "def"); err != nil {
		t.Fatalf("revoke error %s", err)
	}
	if got := server.Revoked(); len(got) != 1 || got[0] != "def" {
		t.Errorf("revoked tokens unexpected: %v", got)
	}
	if err := client.Revoke(context.Background(), ""); err == nil {
		t.Error("expected error revoking an empty token")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		expiry  time.Time
		expired bool
	}{
		{"zero", time.Time{}, true},
		{"past", now.Add(-time.Minute), true},
		{"within_latitude", now.Add(30 * time.Second), true},
		{"future", now.Add(10 * time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := token.Set{AccessToken: "abc", Expiry: tt.expiry}
			if s.Expired(now) != tt.expired {
				t.Errorf("expired want(%t) got(%t)", tt.expired, s.Expired(now))
			}
		})
	}
}

func TestStringMasksTokens(t *testing.T) {
	s := token.Set{AccessToken: "abcdefghijklmnop", RefreshToken: "short"}
	out := s.String()
	if strings.Contains(out, "abcdefghijklmnop") || strings.Contains(out, "short") {
		t.Errorf("tokens leaked in %s", out)
	}
}
