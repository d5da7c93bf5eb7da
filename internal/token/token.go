// Package token obtains the short-lived credential a client needs to open a
// provider session without ever seeing the provider's long-lived key.
//
// [HTTPIssuer] consumes an external token-issuance endpoint; [Static] serves a
// pre-provisioned ephemeral key.
package token

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMissingCredential is returned when the issuer answered without a usable
// credential value.
var ErrMissingCredential = errors.New("token: response carries no credential")

// Credential is a short-lived secret. Value must never be logged.
type Credential struct {
	Value     string
	ExpiresAt time.Time // zero when the issuer did not say
}

// Expired reports whether the credential has a known expiry that lies before
// now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Issuer mints one credential per call.
type Issuer interface {
	Issue(ctx context.Context) (Credential, error)
}

// Compile-time interface assertions.
var (
	_ Issuer = (*HTTPIssuer)(nil)
	_ Issuer = Static("")
)

// ── HTTPIssuer ───────────────────────────────────────────────────────────────

// Option configures an [HTTPIssuer].
type Option func(*HTTPIssuer)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(i *HTTPIssuer) { i.client = c }
}

// WithHeader adds a header to every issuance request, e.g. an application
// session cookie or API gateway key.
func WithHeader(key, value string) Option {
	return func(i *HTTPIssuer) { i.header.Set(key, value) }
}

// HTTPIssuer POSTs to a token endpoint and parses either
// {"client_secret":{"value":"...","expires_at":<unix>}} or {"value":"..."}.
//
// HTTPIssuer is safe for concurrent use.
type HTTPIssuer struct {
	url    string
	client *http.Client
	header http.Header
}

// NewHTTPIssuer creates an issuer for the endpoint at url.
func NewHTTPIssuer(url string, opts ...Option) (*HTTPIssuer, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("token: endpoint url must not be empty")
	}
	i := &HTTPIssuer{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		header: make(http.Header),
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// Issue implements [Issuer]. It makes exactly one request.
func (i *HTTPIssuer) Issue(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("token: build request: %w", err)
	}
	for k, vs := range i.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("token: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Credential{}, fmt.Errorf("token: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, fmt.Errorf("token: unexpected status %d", resp.StatusCode)
	}
	return ParseCredential(body)
}

// ParseCredential extracts a credential from an issuance response body.
func ParseCredential(body []byte) (Credential, error) {
	if !gjson.ValidBytes(body) {
		return Credential{}, fmt.Errorf("token: response is not JSON")
	}
	root := gjson.ParseBytes(body)

	value := root.Get("client_secret.value")
	expires := root.Get("client_secret.expires_at")
	if !value.Exists() {
		value = root.Get("value")
		expires = root.Get("expires_at")
	}
	if value.Type != gjson.String || value.Str == "" {
		return Credential{}, ErrMissingCredential
	}

	c := Credential{Value: value.Str}
	if expires.Type == gjson.Number && expires.Int() > 0 {
		c.ExpiresAt = time.Unix(expires.Int(), 0)
	}
	return c, nil
}

// ── Static ───────────────────────────────────────────────────────────────────

// Static is an [Issuer] that always returns the same credential.
type Static string

// Issue implements [Issuer].
func (s Static) Issue(ctx context.Context) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	if s == "" {
		return Credential{}, ErrMissingCredential
	}
	return Credential{Value: string(s)}, nil
}
