package signaling_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/voxbridge/internal/signaling"
)

func TestExchange_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("model"); got != "gpt-realtime" {
			t.Errorf("model = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ek_1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/sdp" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "v=0 offer" {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("v=0 answer"))
	}))
	defer srv.Close()

	c, err := signaling.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	answer, err := c.Exchange(context.Background(), "gpt-realtime", "ek_1", "v=0 offer")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if answer != "v=0 answer" {
		t.Errorf("answer = %q", answer)
	}
}

func TestExchange_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"model_not_found","message":"The model does not exist"}}`))
	}))
	defer srv.Close()

	c, _ := signaling.New(srv.URL)
	_, err := c.Exchange(context.Background(), "nope", "ek", "offer")
	var pe *signaling.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusBadRequest || pe.Model != "nope" || pe.Code() != "model_not_found" {
		t.Errorf("unexpected provider error: %+v", pe)
	}
	if !signaling.DefaultModelNotFound()(err) {
		t.Error("default predicate did not match model_not_found")
	}
}

func TestProviderError_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"ascii", strings.Repeat("a", 300)},
		{"two-byte rune across the cut", strings.Repeat("a", 199) + strings.Repeat("é", 50)},
		{"four-byte runes", strings.Repeat("🎙", 80)},
		{"short", "modèle inconnu"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg := (&signaling.ProviderError{Model: "m", StatusCode: 400, Body: tc.body}).Error()
			if !utf8.ValidString(msg) {
				t.Errorf("message is not valid UTF-8: %q", msg)
			}
			if len(msg) > 300 {
				t.Errorf("message length %d, body not truncated", len(msg))
			}
			if len(tc.body) <= 200 && !strings.HasSuffix(msg, tc.body) {
				t.Errorf("short body altered: %q", msg)
			}
		})
	}
}

func TestExchange_EmptyAnswer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := signaling.New(srv.URL)
	if _, err := c.Exchange(context.Background(), "m", "ek", "offer"); err == nil {
		t.Fatal("expected error for an empty answer")
	}
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	byCode := &signaling.ProviderError{StatusCode: 404, Body: `{"error":{"code":"invalid_model"}}`}
	byText := &signaling.ProviderError{StatusCode: 400, Body: "Model Is Not Supported for realtime"}
	other := &signaling.ProviderError{StatusCode: 500, Body: "internal"}

	tests := []struct {
		name string
		pred signaling.Predicate
		err  error
		want bool
	}{
		{"code match", signaling.MatchErrorCodes("invalid_model"), byCode, true},
		{"code miss", signaling.MatchErrorCodes("model_not_found"), byCode, false},
		{"substring case-insensitive", signaling.MatchBodySubstrings("not supported"), byText, true},
		{"default ignores 500", signaling.DefaultModelNotFound(), other, false},
		{"plain error", signaling.DefaultModelNotFound(), errors.New("dial tcp: refused"), false},
		{"any", signaling.Any(signaling.MatchErrorCodes("x"), signaling.MatchErrorCodes("invalid_model")), byCode, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.pred(tc.err); got != tc.want {
				t.Errorf("predicate = %v, want %v", got, tc.want)
			}
		})
	}
}
