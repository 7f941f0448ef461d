package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// MaxWebhookBody caps webhook payloads; GitHub never sends more than 25 MB.
const MaxWebhookBody = 25 << 20

// Secret returns the current value of a rotatable credential.
type Secret func() string

// Static returns a Secret that never changes.
func Static(s string) Secret { return func() string { return s } }

// WebhookHMAC returns middleware that validates HMAC-SHA256 webhook signatures.
// The header parameter names the signature header; GitHub uses
// "X-Hub-Signature-256". The verified body is restored for the next handler.
func WebhookHMAC(secretOf Secret, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := secretOf()
			if secret == "" {
				writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
				return
			}

			sig := r.Header.Get(header)
			if sig == "" {
				writeError(w, http.StatusUnauthorized, "missing webhook signature")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
			if err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, "webhook body unreadable or too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyHMAC(body, sig, secret) {
				writeError(w, http.StatusForbidden, "invalid webhook signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// verifyHMAC checks an HMAC-SHA256 signature. Supports both raw hex and
// "sha256=<hex>" prefix formats (GitHub style).
func verifyHMAC(payload []byte, signature, secret string) bool {
	sig := strings.TrimPrefix(signature, "sha256=")
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sigBytes, mac.Sum(nil))
}

// Sign returns the "sha256=<hex>" signature of payload, as GitHub sends it.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":"`+msg+`"}`)
}
