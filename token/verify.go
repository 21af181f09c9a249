package token

import (
	"context"
	"crypto"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rorycl/xeroinvoiceserver/apierror"
)

// IDTokenVerifier checks the signature, issuer, audience and expiry of
// an identity token
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) error
}

// OIDCVerifier verifies identity tokens against the keys of an OpenID
// Connect issuer
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's configuration and keys, for
// Xero see XeroIssuer
func NewOIDCVerifier(ctx context.Context, issuer, clientID string, client *http.Client) (*OIDCVerifier, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, apierror.Wrap(apierror.UpstreamUnavailable, err, "oidc discovery failed")
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewStaticOIDCVerifier verifies against a fixed set of public keys
func NewStaticOIDCVerifier(issuer, clientID string, keys ...crypto.PublicKey) *OIDCVerifier {
	ks := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, ks, &oidc.Config{ClientID: clientID}),
	}
}

// Verify implements IDTokenVerifier
func (o *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) error {
	if _, err := o.verifier.Verify(ctx, rawIDToken); err != nil {
		return apierror.Wrap(apierror.MalformedToken, err, "identity token verification failed")
	}
	return nil
}
