package ledger

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const saltChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// sign computes the provider signature: HMAC-SHA256 over
// lower(method) + path + salt + timestamp + accessKey + secretKey + body,
// hex-encoded and then base64-encoded.
func sign(method, path, salt, timestamp, accessKey, secretKey, body string) string {
	toSign := strings.ToLower(method) + path + salt + timestamp + accessKey + secretKey + body
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(toSign))
	hexDigest := hex.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(hexDigest))
}

// newSalt returns a 12-character alphanumeric nonce.
func newSalt() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = saltChars[int(b[i])%len(saltChars)]
	}
	return string(b)
}
