// Package syncerr classifies sync failures into a small taxonomy that drives
// retry decisions and the messages shown to operators.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

type Kind string

const (
	KindNetwork     Kind = "network"
	KindAuth        Kind = "auth"
	KindRateLimit   Kind = "rate_limit"
	KindProvider    Kind = "provider"
	KindInvalidData Kind = "invalid_data"
	KindUnknown     Kind = "unknown"
)

const (
	DefaultRateLimitRetryAfter = 60 * time.Second
	ProviderRetryAfter         = 300 * time.Second
)

// Info is the classified form of a failure. RetryAfter is zero when the
// backoff policy should decide the delay.
type Info struct {
	Kind          Kind
	Message       string
	UserMessage   string
	ActionMessage string
	Retryable     bool
	RetryAfter    time.Duration
}

// OperatorMessage is what gets stored as the account's last sync error.
func (i Info) OperatorMessage() string {
	if i.ActionMessage == "" {
		return i.UserMessage
	}
	return i.UserMessage + " " + i.ActionMessage
}

// ProviderError is returned by executors that talk to a provider without a
// typed client error. RetryAfter is the raw Retry-After header value.
type ProviderError struct {
	StatusCode int
	Message    string
	RetryAfter string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// signals are the facts pulled out of an error chain before rules run.
type signals struct {
	status     int
	text       string
	retryAfter string
	transport  bool
}

var (
	networkPatterns = []string{
		"connection refused", "connection reset", "timeout", "timed out",
		"no such host", "dns", "fetch failed", "network", "unexpected eof", "broken pipe",
	}
	authPatterns        = []string{"unauthorized", "invalid_grant", "access denied"}
	rateLimitPatterns   = []string{"rate limit", "ratelimit"}
	providerPatterns    = []string{"maintenance", "service unavailable"}
	invalidDataPatterns = []string{"malformed"}

	// Gmail reports per-user quota exhaustion as 403 with these reasons.
	gmailRateLimitReasons = map[string]bool{
		"rateLimitExceeded":     true,
		"userRateLimitExceeded": true,
	}
)

// Classify maps err to an Info. Rules are evaluated in a fixed order and the
// first match wins; a nil error classifies as unknown.
func Classify(err error) Info {
	if err == nil {
		return unknown("")
	}
	s := extract(err)
	msg := err.Error()

	switch {
	case s.status == 0 && (s.transport || containsAny(s.text, networkPatterns)):
		return Info{
			Kind:          KindNetwork,
			Message:       msg,
			UserMessage:   "Could not reach the mail provider.",
			ActionMessage: "The sync will retry automatically.",
			Retryable:     true,
		}
	case s.status == http.StatusUnauthorized || s.status == http.StatusForbidden || containsAny(s.text, authPatterns):
		return Info{
			Kind:          KindAuth,
			Message:       msg,
			UserMessage:   "Mailbox access was revoked or has expired.",
			ActionMessage: "Reconnect the account to resume syncing.",
			Retryable:     false,
		}
	case s.status == http.StatusTooManyRequests || containsAny(s.text, rateLimitPatterns):
		wait, ok := ParseRetryAfter(s.retryAfter, time.Now())
		if !ok {
			wait = DefaultRateLimitRetryAfter
		}
		return Info{
			Kind:          KindRateLimit,
			Message:       msg,
			UserMessage:   "The mail provider is rate limiting requests.",
			ActionMessage: "The sync will resume once the limit resets.",
			Retryable:     true,
			RetryAfter:    wait,
		}
	case s.status == http.StatusServiceUnavailable || containsAny(s.text, providerPatterns):
		return Info{
			Kind:          KindProvider,
			Message:       msg,
			UserMessage:   "The mail provider is temporarily unavailable.",
			ActionMessage: "The sync will retry in a few minutes.",
			Retryable:     true,
			RetryAfter:    ProviderRetryAfter,
		}
	case s.status == http.StatusBadRequest || containsAny(s.text, invalidDataPatterns):
		return Info{
			Kind:          KindInvalidData,
			Message:       msg,
			UserMessage:   "The mail provider rejected the sync request.",
			ActionMessage: "Contact support if this keeps happening.",
			Retryable:     false,
		}
	}
	return unknown(msg)
}

func unknown(msg string) Info {
	return Info{
		Kind:          KindUnknown,
		Message:       msg,
		UserMessage:   "The sync failed unexpectedly.",
		ActionMessage: "The sync will retry automatically.",
		Retryable:     true,
	}
}

// IsAuth reports whether err classifies as an auth failure.
func IsAuth(err error) bool {
	return Classify(err).Kind == KindAuth
}

func extract(err error) signals {
	s := signals{text: strings.ToLower(err.Error())}

	var pe *ProviderError
	if errors.As(err, &pe) {
		s.status = pe.StatusCode
		s.retryAfter = pe.RetryAfter
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		s.status = ge.Code
		if ge.Header != nil {
			s.retryAfter = ge.Header.Get("Retry-After")
		}
		if ge.Code == http.StatusForbidden {
			for _, item := range ge.Errors {
				if gmailRateLimitReasons[item.Reason] {
					s.status = http.StatusTooManyRequests
					break
				}
			}
		}
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			s.status = re.Response.StatusCode
			if s.retryAfter == "" {
				s.retryAfter = re.Response.Header.Get("Retry-After")
			}
		}
		if re.ErrorCode != "" {
			s.text += " " + strings.ToLower(re.ErrorCode)
		}
	}

	if s.status == 0 {
		var netErr net.Error
		var dnsErr *net.DNSError
		var urlErr *url.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			s.transport = true
		case errors.As(err, &dnsErr), errors.As(err, &netErr), errors.As(err, &urlErr):
			s.transport = true
		}
	}
	return s
}

// ParseRetryAfter reads a Retry-After header value in delta-seconds or
// HTTP-date form. Dates in the past yield zero with ok=true.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
