package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how far a signed request's timestamp may drift from
// wall clock.
const DefaultTolerance = 300 * time.Second

// SignEnvelope computes the raw HMAC-SHA256 over timestamp + "." + body.
func SignEnvelope(secret string, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// VerifySignedRequest checks a signed-request envelope: the timestamp must be
// within tolerance of now, and the signature (hex or base64) must match the
// HMAC over timestamp + "." + body. Comparisons are constant time.
func VerifySignedRequest(secret, timestamp string, body []byte, signature string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return fmt.Errorf("signing secret is not configured")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp")
	}
	drift := now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(tolerance/time.Second) {
		return fmt.Errorf("timestamp outside tolerance")
	}

	provided, err := decodeSignature(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("invalid signature encoding")
	}
	expected := SignEnvelope(secret, strings.TrimSpace(timestamp), body)
	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// decodeSignature accepts hex or standard base64, with an optional
// "sha256=" prefix some signers attach.
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "sha256=")
	if raw, err := hex.DecodeString(sig); err == nil && len(raw) == sha256.Size {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(sig); err == nil && len(raw) == sha256.Size {
		return raw, nil
	}
	return nil, fmt.Errorf("signature is neither hex nor base64")
}

// TokenEqual compares two shared secrets in constant time.
func TokenEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
