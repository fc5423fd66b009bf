// Package signature implements the HMAC-SHA256 scheme used both to
// authenticate outbound provider calls and to validate inbound webhooks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected signature for payload and compares it to the
// presented one in constant time.
func Verify(payload []byte, sig string, secret []byte) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}
