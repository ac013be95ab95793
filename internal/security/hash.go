package security

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // protocol-mandated key derivation, not used for integrity
	"crypto/sha1" //nolint:gosec // KSO-1 legacy signing is HMAC-SHA-1 by definition
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

// md5Hex returns the lowercase hex MD5 digest of data.
func md5Hex(data []byte) string {
	h := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(h[:])
}

// sha256Hex returns the lowercase hex SHA-256 digest of data.
func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

func hmacSHA1(key, message []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// constantTimeEqual compares two strings without leaking the position of
// the first differing byte.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SecretHint renders a secret for diagnostics: its length and, for
// secrets longer than eight bytes, the first four characters.
func SecretHint(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	prefix := ""
	if len(secret) > 8 {
		prefix = secret[:4]
	}
	return prefix + "***(len=" + strconv.Itoa(len(secret)) + ")"
}
