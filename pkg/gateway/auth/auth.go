// Package auth implements the per-session HMAC handshake: clients prove
// possession of their account key by signing the session id.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of the session id under the
// account key.
func Sign(key, sessionID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for sessionID under
// key. Comparison is constant time.
func Verify(key, sessionID, sig string) bool {
	want := Sign(key, sessionID)
	return hmac.Equal([]byte(want), []byte(sig))
}
