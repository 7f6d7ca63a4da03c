package security

import (
	"errors"
	"testing"
)

func TestGenerateAndVerifySignature(t *testing.T) {
	payload := []byte(`{"event":"payment.completed"}`)
	sig := GenerateSignature(payload, "s3cret")

	if err := VerifySignature(payload, sig, "s3cret"); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
	if err := VerifySignature(payload, "sha256="+sig, "s3cret"); err != nil {
		t.Fatalf("expected prefixed signature to verify: %v", err)
	}
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	payload := []byte(`{"amount":100}`)
	sig := GenerateSignature(payload, "s3cret")

	cases := map[string]struct {
		payload []byte
		sig     string
		secret  string
		want    error
	}{
		"tampered body":  {payload: []byte(`{"amount":1000}`), sig: sig, secret: "s3cret", want: ErrSignatureMismatch},
		"wrong secret":   {payload: payload, sig: sig, secret: "other", want: ErrSignatureMismatch},
		"empty secret":   {payload: payload, sig: sig, secret: "", want: ErrSignatureMismatch},
		"not hex":        {payload: payload, sig: "zz-not-hex", secret: "s3cret", want: ErrSignatureMismatch},
		"missing header": {payload: payload, sig: "  ", secret: "s3cret", want: ErrSignatureMissing},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := VerifySignature(tc.payload, tc.sig, tc.secret)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifySignatureBase64(t *testing.T) {
	payload := []byte("https://example.com/hook{}")
	sig := GenerateSignatureBase64(payload, "key")
	if err := VerifySignatureBase64(payload, sig, "key"); err != nil {
		t.Fatalf("expected base64 signature to verify: %v", err)
	}
	if err := VerifySignatureBase64([]byte("other"), sig, "key"); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestMD5HexAndEqualHex(t *testing.T) {
	if got := MD5Hex("abc"); got != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatalf("unexpected md5 %s", got)
	}
	if !EqualHex("ABCDEF", "abcdef") {
		t.Fatal("expected case-insensitive match")
	}
	if EqualHex("abc", "abd") {
		t.Fatal("expected mismatch")
	}
}
