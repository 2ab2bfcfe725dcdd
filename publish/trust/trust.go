// Package trust implements trusted publishing. The runner obtains a
// short-lived identity token from the hosting platform and exchanges it
// at the registry for an upload token, so no long-lived credential is
// ever configured.
package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/secrets"
)

// Environment variables exposing the platform's identity token endpoint,
// following the request-URL plus request-token convention used by hosted
// CI providers.
const (
	EnvRequestURL   = "RELAY_ID_TOKEN_REQUEST_URL"
	EnvRequestToken = "RELAY_ID_TOKEN_REQUEST_TOKEN"
)

// DefaultAudience is the audience claim requested for the identity token.
const DefaultAudience = "pypi"

// IdentityProvider hands out platform identity tokens scoped to an
// audience.
type IdentityProvider interface {
	// IdentityToken returns a signed identity token for the audience.
	IdentityToken(ctx context.Context, audience string) (secrets.Value, error)
}

// EnvIdentityProvider requests identity tokens from the endpoint the
// hosting platform injects into the job environment.
type EnvIdentityProvider struct {
	client *http.Client
}

// NewEnvIdentityProvider creates an EnvIdentityProvider. A nil client
// falls back to a default with a short timeout.
func NewEnvIdentityProvider(client *http.Client) *EnvIdentityProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &EnvIdentityProvider{client: client}
}

// IdentityToken requests a token from the platform endpoint. Missing
// endpoint configuration means the job does not run under a trusted
// publishing capable platform, which is unrecoverable for publishing.
func (p *EnvIdentityProvider) IdentityToken(ctx context.Context, audience string) (secrets.Value, error) {
	requestURL := os.Getenv(EnvRequestURL)
	requestToken := os.Getenv(EnvRequestToken)
	if requestURL == "" || requestToken == "" {
		return secrets.Value{}, errors.New(errors.CodeUnauthorized,
			"identity token endpoint not present in environment")
	}

	u, err := url.Parse(requestURL)
	if err != nil {
		return secrets.Value{}, errors.Wrap(err, errors.CodeUnauthorized, "parse identity token endpoint")
	}
	q := u.Query()
	q.Set("audience", audience)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return secrets.Value{}, errors.Wrap(err, errors.CodeInternal, "build identity token request")
	}
	req.Header.Set("Authorization", "Bearer "+requestToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return secrets.Value{}, errors.Wrap(err, errors.CodeNetwork, "request identity token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return secrets.Value{}, errors.Newf(errors.CodeUnauthorized,
			"identity token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return secrets.Value{}, errors.Wrap(err, errors.CodeUnauthorized, "decode identity token response")
	}
	if payload.Value == "" {
		return secrets.Value{}, errors.New(errors.CodeUnauthorized, "identity token endpoint returned empty token")
	}
	return secrets.NewValue(payload.Value), nil
}

// StaticIdentityProvider returns a fixed token. Test use only.
type StaticIdentityProvider struct {
	Token secrets.Value
}

// IdentityToken returns the configured token.
func (p *StaticIdentityProvider) IdentityToken(context.Context, string) (secrets.Value, error) {
	return p.Token, nil
}

// Exchanger swaps a platform identity token for a registry upload token
// at the registry's mint endpoint.
type Exchanger struct {
	mintURL string
	client  *http.Client
}

// NewExchanger creates an Exchanger against the given mint endpoint.
func NewExchanger(mintURL string, client *http.Client) *Exchanger {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Exchanger{mintURL: mintURL, client: client}
}

// Exchange performs the token exchange. The returned token is short
// lived and scoped to the publishing project.
func (e *Exchanger) Exchange(ctx context.Context, identity secrets.Value) (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{"token": identity.Reveal()})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode token exchange request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.mintURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "build token exchange request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "exchange identity token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf(errors.CodeUnauthorized,
			"token exchange rejected with %d: %s", resp.StatusCode, string(msg))
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnauthorized, "decode token exchange response")
	}
	if payload.Token == "" {
		return nil, errors.New(errors.CodeUnauthorized, "token exchange returned empty token")
	}

	tok := &oauth2.Token{
		AccessToken: payload.Token,
		TokenType:   "token",
	}
	if payload.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tok, nil
}
