package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSignature returns the hex HMAC-SHA256 over body || timestamp.
// Workers compute the same digest on their side; the format must not change
// without coordinating a fleet-wide rollout.
func ComputeSignature(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a supplied signature in constant time.
func VerifySignature(secret string, body []byte, timestamp, signature string) bool {
	expected := ComputeSignature(secret, body, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
