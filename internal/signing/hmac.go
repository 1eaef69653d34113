package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix identifies the algorithm in the signature header, following
// the GitHub-style "sha256=<hex>" convention.
const Prefix = "sha256="

// Sign computes the hex HMAC-SHA256 of payload under secret. Callers
// must serialize with stable field order before signing so receivers
// can reproduce the digest over the raw body.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns the value sent in the signature header.
func Header(secret string, payload []byte) string {
	return Prefix + Sign(secret, payload)
}

// Verify checks a received signature header in constant time. It
// accepts both the prefixed header form and a bare hex digest.
func Verify(secret string, payload []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, Prefix)
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
