// Package signature implements the HMAC scheme shared by inbound
// verification and outbound signing. Both directions use the same
// construction so downstream targets can authenticate the hub with the
// code they already use to authenticate their own producers.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// DefaultTolerance is the maximum accepted clock skew for timestamped
// signatures.
const DefaultTolerance = 300 * time.Second

var (
	// ErrInvalid means the signature does not match the body.
	ErrInvalid = errors.New("signature: mismatch")

	// ErrExpired means the timestamp header is outside the tolerance window.
	ErrExpired = errors.New("signature: timestamp outside tolerance")
)

// Sign computes the hex-encoded HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex signature against body using constant-time comparison.
func Verify(secret string, body []byte, signature string) error {
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalid
	}
	return nil
}

// VerifyTimestamp parses a unix-seconds timestamp header and rejects values
// outside the tolerance window in either direction. An empty timestamp is
// accepted: producers that do not send one opt out of replay protection.
func VerifyTimestamp(timestamp string, tolerance time.Duration, now time.Time) error {
	if timestamp == "" {
		return nil
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrExpired
	}

	diff := now.Sub(time.Unix(ts, 0))
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return ErrExpired
	}
	return nil
}

// Timestamp renders t as the unix-seconds string carried in X-Timestamp.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
