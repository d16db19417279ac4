package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Request headers set on every call to a channel
const (
	HeaderTimestamp = "X-Sync-Timestamp"
	HeaderSignature = "X-Sync-Signature"
)

// Sign returns the hex HMAC-SHA256 of "timestamp.body" keyed with secret.
// Channels verify it to authenticate the engine.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches Sign(secret, timestamp, body)
func VerifySignature(secret, timestamp string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
