// Package signing implements the shared-secret request signing scheme used
// for every cross-trust-boundary call to or from an external provider.
//
// Signature headers have the form "t=<unixSeconds>,v1=<hex hmac-sha256>"
// where the MAC covers "<timestamp>.<rawPayload>".
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tolerance is the replay window. Signatures older or newer than this are
// rejected regardless of validity.
const Tolerance = 5 * time.Minute

const secretPrefix = "whsec_"

var (
	ErrMalformedHeader = errors.New("signature header malformed")
	ErrBadTimestamp    = errors.New("signature timestamp unparseable")
	ErrExpired         = errors.New("signature outside tolerance window")
	ErrMismatch        = errors.New("signature mismatch")
)

type Verification struct {
	Timestamp time.Time
	Verified  bool
}

// Sign produces the signature header for payload at the given timestamp.
// Deterministic for a fixed timestamp, which keeps it testable.
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, computeMAC(payload, secret, unix))
}

// Verify checks header against payload and secret, enforcing the replay
// window symmetrically for past and future timestamps. MAC comparison is
// constant-time.
func Verify(payload []byte, header, secret string) (Verification, error) {
	return verifyAt(payload, header, secret, time.Now().UTC())
}

func verifyAt(payload []byte, header, secret string, now time.Time) (Verification, error) {
	var tsPart, sigPart string
	for _, part := range strings.Split(strings.TrimSpace(header), ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			tsPart = v
		case "v1":
			sigPart = v
		}
	}
	if tsPart == "" || sigPart == "" {
		return Verification{}, ErrMalformedHeader
	}
	unix, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return Verification{}, ErrBadTimestamp
	}
	ts := time.Unix(unix, 0).UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > Tolerance {
		return Verification{Timestamp: ts}, ErrExpired
	}
	expected := computeMAC(payload, secret, unix)
	if len(sigPart) != len(expected) || !hmac.Equal([]byte(sigPart), []byte(expected)) {
		return Verification{Timestamp: ts}, ErrMismatch
	}
	return Verification{Timestamp: ts, Verified: true}, nil
}

// NewSecret generates a provider-scoped signing secret: 32 random bytes,
// hex-encoded behind a fixed prefix.
func NewSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// UUID-derived secret rather than panic during provider onboarding.
		return secretPrefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	}
	return secretPrefix + hex.EncodeToString(b)
}

func computeMAC(payload []byte, secret string, unix int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.", unix)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
