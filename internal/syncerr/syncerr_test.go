package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassify_Rules(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		kind       Kind
		retryable  bool
		retryAfter time.Duration
	}{
		{"dns failure", &net.DNSError{Err: "no such host", Name: "gmail.googleapis.com"}, KindNetwork, true, 0},
		{"url error", &url.Error{Op: "Get", URL: "https://x", Err: errors.New("connection refused")}, KindNetwork, true, 0},
		{"deadline", fmt.Errorf("execute: %w", context.DeadlineExceeded), KindNetwork, true, 0},
		{"network text", errors.New("fetch failed"), KindNetwork, true, 0},
		{"401 status", &ProviderError{StatusCode: 401}, KindAuth, false, 0},
		{"403 status", &ProviderError{StatusCode: 403}, KindAuth, false, 0},
		{"invalid_grant text", errors.New("oauth2: invalid_grant"), KindAuth, false, 0},
		{"access denied text", errors.New("Access Denied for mailbox"), KindAuth, false, 0},
		{"429 no header", &ProviderError{StatusCode: 429}, KindRateLimit, true, DefaultRateLimitRetryAfter},
		{"429 with header", &ProviderError{StatusCode: 429, RetryAfter: "17"}, KindRateLimit, true, 17 * time.Second},
		{"rate limit text", errors.New("Rate limit exceeded"), KindRateLimit, true, DefaultRateLimitRetryAfter},
		{"503 status", &ProviderError{StatusCode: 503}, KindProvider, true, ProviderRetryAfter},
		{"maintenance text", errors.New("scheduled maintenance"), KindProvider, true, ProviderRetryAfter},
		{"400 status", &ProviderError{StatusCode: 400}, KindInvalidData, false, 0},
		{"malformed text", errors.New("malformed history id"), KindInvalidData, false, 0},
		{"500 status", &ProviderError{StatusCode: 500}, KindUnknown, true, 0},
		{"plain error", errors.New("boom"), KindUnknown, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Classify(tt.err)
			if info.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", info.Kind, tt.kind)
			}
			if info.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", info.Retryable, tt.retryable)
			}
			if info.RetryAfter != tt.retryAfter {
				t.Errorf("retryAfter = %s, want %s", info.RetryAfter, tt.retryAfter)
			}
			if info.UserMessage == "" {
				t.Error("expected a user message")
			}
		})
	}
}

func TestClassify_StatusBeatsNetworkText(t *testing.T) {
	err := &ProviderError{StatusCode: 401, Message: "network session expired"}
	if got := Classify(err).Kind; got != KindAuth {
		t.Fatalf("kind = %s, want auth", got)
	}

	// earlier rules win over later ones
	err = &ProviderError{StatusCode: 429, Message: "service unavailable"}
	if got := Classify(err).Kind; got != KindRateLimit {
		t.Fatalf("kind = %s, want rate_limit", got)
	}
	err = &ProviderError{StatusCode: 503, Message: "malformed"}
	if got := Classify(err).Kind; got != KindProvider {
		t.Fatalf("kind = %s, want provider", got)
	}
}

func TestClassify_GoogleAPIError(t *testing.T) {
	t.Run("quota 403 becomes rate limit", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "42")
		err := fmt.Errorf("list history: %w", &googleapi.Error{
			Code:   403,
			Header: h,
			Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
		})
		info := Classify(err)
		if info.Kind != KindRateLimit {
			t.Fatalf("kind = %s, want rate_limit", info.Kind)
		}
		if info.RetryAfter != 42*time.Second {
			t.Errorf("retryAfter = %s, want 42s", info.RetryAfter)
		}
	})

	t.Run("plain 403 stays auth", func(t *testing.T) {
		err := &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}
		if got := Classify(err).Kind; got != KindAuth {
			t.Fatalf("kind = %s, want auth", got)
		}
	})

	t.Run("404 is unknown", func(t *testing.T) {
		if got := Classify(&googleapi.Error{Code: 404}).Kind; got != KindUnknown {
			t.Fatalf("kind = %s, want unknown", got)
		}
	})
}

func TestClassify_OAuthRetrieveError(t *testing.T) {
	err := fmt.Errorf("refresh token: %w", &oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: 400},
		ErrorCode: "invalid_grant",
	})
	info := Classify(err)
	// the 400 status alone would be invalid_data; invalid_grant must win
	if info.Kind != KindAuth {
		t.Fatalf("kind = %s, want auth", info.Kind)
	}
	if info.OperatorMessage() != "Mailbox access was revoked or has expired. Reconnect the account to resume syncing." {
		t.Errorf("unexpected operator message %q", info.OperatorMessage())
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil).Kind; got != KindUnknown {
		t.Fatalf("kind = %s, want unknown", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"120", 120 * time.Second, true},
		{" 5 ", 5 * time.Second, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
	}
	for _, tt := range tests {
		got, ok := ParseRetryAfter(tt.in, now)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRetryAfter(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
