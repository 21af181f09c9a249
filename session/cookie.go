package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// CookieName is the name of the session cookie
const CookieName = "xero_session"

// Cookies signs session ids into, and reads them back from, the session
// cookie. The value is "<id>.<base64 hmac-sha256 of id>".
type Cookies struct {
	secret []byte
	// Secure sets the cookie's Secure flag; it is off for local
	// development over http
	Secure bool
	MaxAge time.Duration
}

// NewCookies returns a cookie codec keyed by secret
func NewCookies(secret string, secure bool) *Cookies {
	return &Cookies{secret: []byte(secret), Secure: secure, MaxAge: DefaultTTL}
}

func (c *Cookies) sign(id string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Set writes the signed cookie for id
func (c *Cookies) Set(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id + "." + c.sign(id),
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the cookie
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
	})
}

// ID returns the session id of the request, if its cookie is present and
// correctly signed
func (c *Cookies) ID(r *http.Request) (string, bool) {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	id, sig, ok := strings.Cut(ck.Value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(id))) {
		return "", false
	}
	return id, true
}
