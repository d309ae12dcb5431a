package webhookauth

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestNewVerifier_RequiresSecret(t *testing.T) {
	for _, secret := range []string{"", "   "} {
		if _, err := NewVerifier(secret); !errors.Is(err, ErrMissingSecret) {
			t.Errorf("NewVerifier(%q) err = %v, want ErrMissingSecret", secret, err)
		}
	}
}

func TestVerifier_Check(t *testing.T) {
	now := time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"accountId":"acct_1"}`)

	v, err := NewVerifier("s")
	if err != nil {
		t.Fatal(err)
	}
	other, _ := NewVerifier("other")

	ts, sig := v.Sign(now, body)
	_, otherSig := other.Sign(now, body)
	staleTS, staleSig := v.Sign(now.Add(-MaxSkew-time.Second), body)
	aheadTS, aheadSig := v.Sign(now.Add(MaxSkew), body)

	tests := []struct {
		name      string
		timestamp string
		signature string
		body      []byte
		wantErr   error
	}{
		{"valid", ts, sig, body, nil},
		{"clock ahead within skew", aheadTS, aheadSig, body, nil},
		{"padded headers", " " + ts + " ", sig + "\n", body, nil},
		{"wrong secret", ts, otherSig, body, ErrBadSignature},
		{"tampered body", ts, sig, []byte(`{}`), ErrBadSignature},
		{"signature for another timestamp", strconv.FormatInt(now.Unix()+1, 10), sig, body, ErrBadSignature},
		{"not hex", ts, "zz", body, ErrBadSignature},
		{"bad timestamp", "yesterday", sig, body, ErrBadTimestamp},
		{"stale delivery", staleTS, staleSig, body, ErrStaleDelivery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Check(tt.timestamp, tt.signature, tt.body, now); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
