package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rorycl/xeroinvoiceserver/apierror"
)

// Claims are the identity fields decoded from a token set's identity
// and access tokens
type Claims struct {
	Subject               string    `json:"sub"`
	Email                 string    `json:"email,omitempty"`
	GivenName             string    `json:"given_name,omitempty"`
	FamilyName            string    `json:"family_name,omitempty"`
	SessionID             string    `json:"sid,omitempty"`
	XeroUserID            string    `json:"xero_userid,omitempty"`
	AuthenticationEventID string    `json:"authentication_event_id,omitempty"`
	Scopes                []string  `json:"scopes,omitempty"`
	AccessExpiry          time.Time `json:"access_expiry"`
}

// idTokenClaims are the Xero identity token fields
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	PreferredUsername string `json:"preferred_username"`
	SessionID         string `json:"sid"`
	XeroUserID        string `json:"xero_userid"`
	GlobalSessionID   string `json:"global_session_id"`
}

// accessTokenClaims are the Xero access token fields
type accessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID              string           `json:"client_id"`
	XeroUserID            string           `json:"xero_userid"`
	AuthenticationEventID string           `json:"authentication_event_id"`
	Scope                 jwt.ClaimStrings `json:"scope"`
}

// DecodeClaims decodes, without verification, the payloads of the
// identity and access tokens of s. The identity token is optional
// (it is only issued for the openid scope); the access token is not.
func DecodeClaims(s Set) (Claims, error) {
	parser := jwt.NewParser()

	var at accessTokenClaims
	if _, _, err := parser.ParseUnverified(s.AccessToken, &at); err != nil {
		return Claims{}, apierror.Wrap(apierror.MalformedToken, err, "access token not decodable")
	}

	c := Claims{
		Subject:               at.Subject,
		XeroUserID:            at.XeroUserID,
		AuthenticationEventID: at.AuthenticationEventID,
		Scopes:                []string(at.Scope),
	}
	if at.ExpiresAt != nil {
		c.AccessExpiry = at.ExpiresAt.Time.UTC()
	}

	if s.IDToken == "" {
		return c, nil
	}
	var id idTokenClaims
	if _, _, err := parser.ParseUnverified(s.IDToken, &id); err != nil {
		return Claims{}, apierror.Wrap(apierror.MalformedToken, err, "identity token not decodable")
	}
	if id.Subject != "" {
		c.Subject = id.Subject
	}
	c.Email = id.Email
	c.GivenName = id.GivenName
	c.FamilyName = id.FamilyName
	c.SessionID = id.SessionID
	if c.XeroUserID == "" {
		c.XeroUserID = id.XeroUserID
	}
	return c, nil
}
