package trust

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/secrets"
)

// Claims are the identity claims a registry evaluates against its
// trusted publisher configuration.
type Claims struct {
	Subject    string `json:"sub"`
	Repository string `json:"repository"`
	Workflow   string `json:"workflow_ref"`
	RefName    string `json:"ref"`
}

// Verifier validates identity tokens against an OIDC issuer. The
// publisher uses it to check the platform identity token before
// spending it on an exchange.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the issuer and builds a Verifier expecting the
// given audience.
func NewVerifier(ctx context.Context, issuer, audience string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "discover OIDC issuer")
	}
	return &Verifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
	}, nil
}

// Verify checks signature, issuer, audience and expiry, returning the
// publisher claims on success.
func (v *Verifier) Verify(ctx context.Context, token secrets.Value) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, token.Reveal())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnauthorized, "verify identity token")
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnauthorized, "decode identity claims")
	}
	return &claims, nil
}
