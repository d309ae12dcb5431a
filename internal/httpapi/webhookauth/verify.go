// Package webhookauth authenticates sync and activity pushes from the web
// app. A delivery carries a unix timestamp and a hex HMAC-SHA256 of
// "<timestamp>.<body>" keyed with the shared webhook secret.
package webhookauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Headers a signed delivery carries.
const (
	TimestampHeader = "X-Event-Timestamp"
	SignatureHeader = "X-Signature"
)

// MaxSkew bounds how far a delivery's timestamp may drift from our clock.
const MaxSkew = 5 * time.Minute

var (
	ErrMissingSecret = errors.New("webhook secret not configured")
	ErrBadTimestamp  = errors.New("malformed delivery timestamp")
	ErrStaleDelivery = errors.New("delivery timestamp outside allowed skew")
	ErrBadSignature  = errors.New("delivery signature mismatch")
)

// Verifier checks deliveries against one shared secret.
type Verifier struct {
	key []byte
}

// NewVerifier fails with ErrMissingSecret when secret is blank, so a
// misconfigured server finds out at startup.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{key: []byte(secret)}, nil
}

// Check authenticates one delivery received at now.
func (v *Verifier) Check(timestamp, signature string, body []byte, now time.Time) error {
	timestamp = strings.TrimSpace(timestamp)
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	if skew := now.Sub(time.Unix(unix, 0)).Abs(); skew > MaxSkew {
		return ErrStaleDelivery
	}

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || !hmac.Equal(got, v.mac(timestamp, body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the header values a sender attaches to body at time at.
func (v *Verifier) Sign(at time.Time, body []byte) (timestamp, signature string) {
	timestamp = strconv.FormatInt(at.Unix(), 10)
	return timestamp, hex.EncodeToString(v.mac(timestamp, body))
}

func (v *Verifier) mac(timestamp string, body []byte) []byte {
	m := hmac.New(sha256.New, v.key)
	m.Write([]byte(timestamp))
	m.Write([]byte{'.'})
	m.Write(body)
	return m.Sum(nil)
}
