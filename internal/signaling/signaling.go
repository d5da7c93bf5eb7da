// Package signaling performs the provider's SDP offer/answer exchange over
// HTTP and classifies its failures.
//
// The exchange is a single request:
//
//	POST {endpoint}?model={id}
//	Authorization: Bearer {ephemeral credential}
//	Content-Type: application/sdp
//
//	<offer SDP>
//
// A 2xx response body is the answer SDP.
package signaling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// DefaultEndpoint is the provider's realtime SDP endpoint.
const DefaultEndpoint = "https://api.openai.com/v1/realtime"

// maxBody bounds how much of a response is read.
const maxBody = 1 << 20

// maxErrorBody bounds how many bytes of the body an error message quotes.
const maxErrorBody = 200

// ProviderError is a non-2xx answer from the signaling endpoint.
type ProviderError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "…"
	}
	return fmt.Sprintf("signaling: model %q: status %d: %s", e.Model, e.StatusCode, strings.TrimSpace(body))
}

// Code returns the provider error code from a JSON body such as
// {"error":{"code":"model_not_found"}}, or "".
func (e *ProviderError) Code() string {
	return gjson.Get(e.Body, "error.code").String()
}

// ── Model-not-found classification ───────────────────────────────────────────

// Predicate reports whether err means the requested model is not recognised.
type Predicate func(err error) bool

// MatchErrorCodes matches a [*ProviderError] whose JSON error code is one of
// codes.
func MatchErrorCodes(codes ...string) Predicate {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return func(err error) bool {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			return false
		}
		_, ok := set[pe.Code()]
		return ok
	}
}

// MatchBodySubstrings matches a [*ProviderError] whose body contains any of
// subs, case-insensitively.
func MatchBodySubstrings(subs ...string) Predicate {
	return func(err error) bool {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			return false
		}
		body := strings.ToLower(pe.Body)
		for _, s := range subs {
			if s != "" && strings.Contains(body, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
}

// Any combines predicates with logical OR.
func Any(preds ...Predicate) Predicate {
	return func(err error) bool {
		for _, p := range preds {
			if p != nil && p(err) {
				return true
			}
		}
		return false
	}
}

// DefaultModelNotFound recognises the provider's model_not_found error, by
// code or by message.
func DefaultModelNotFound() Predicate {
	return Any(
		MatchErrorCodes("model_not_found"),
		MatchBodySubstrings("model_not_found", "does not exist", "not supported"),
	)
}

// ── Client ───────────────────────────────────────────────────────────────────

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// Client exchanges SDP with the provider. Safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a client for endpoint. An empty endpoint selects
// [DefaultEndpoint].
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("signaling: endpoint: %w", err)
	}
	c := &Client{endpoint: endpoint, http: &http.Client{Timeout: 15 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Exchange posts offer for model and returns the answer SDP. A non-2xx status
// is reported as a [*ProviderError].
func (c *Client) Exchange(ctx context.Context, model, credential, offer string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("signaling: endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("signaling: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("signaling: model %q: %w", model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("signaling: model %q: read answer: %w", model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ProviderError{Model: model, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", fmt.Errorf("signaling: model %q: empty answer", model)
	}
	return string(body), nil
}
