package security

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureMismatch is returned when a presented signature does not match.
var ErrSignatureMismatch = errors.New("signature mismatch")

// ErrSignatureMissing is returned when a request carries no signature at all.
var ErrSignatureMissing = errors.New("signature missing")

// GenerateSignature returns the lowercase hex HMAC-SHA256 of payload under secret.
func GenerateSignature(payload []byte, secret string) string {
	return hex.EncodeToString(hmacSHA256(payload, secret))
}

// GenerateSignatureBase64 returns the standard base64 HMAC-SHA256 of payload under secret.
func GenerateSignatureBase64(payload []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256(payload, secret))
}

// VerifySignature compares a hex HMAC-SHA256 signature in constant time.
// An optional "sha256=" prefix is accepted.
func VerifySignature(payload []byte, signature, secret string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return ErrSignatureMissing
	}
	if secret == "" {
		return ErrSignatureMismatch
	}
	presented, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(presented, hmacSHA256(payload, secret)) {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifySignatureBase64 compares a base64 HMAC-SHA256 signature in constant time.
func VerifySignatureBase64(payload []byte, signature, secret string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMissing
	}
	if secret == "" {
		return ErrSignatureMismatch
	}
	presented, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(presented, hmacSHA256(payload, secret)) {
		return ErrSignatureMismatch
	}
	return nil
}

// MD5Hex returns the lowercase hex md5 digest of value.
// Only used for provider schemes that mandate it.
func MD5Hex(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// EqualHex compares two hex digests in constant time, ignoring case.
func EqualHex(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(strings.ToLower(b)))
}

func hmacSHA256(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
