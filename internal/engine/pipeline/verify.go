package pipeline

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sign computes the lowercase hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a webhook signature header against the body.
// A leading "sha256=" prefix is stripped case-insensitively; the hex
// strings are compared in constant time. An empty or short header never
// matches.
func VerifySignature(secret string, body []byte, header string) bool {
	value := header
	if len(value) >= 7 && strings.EqualFold(value[:7], "sha256=") {
		value = value[7:]
	}

	expected := Sign(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(value))) == 1
}
