package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Admin request header names. Every privileged HTTP request carries all four.
const (
	HeaderAdminKey       = "X-Flashpool-Api-Key"
	HeaderAdminTimestamp = "X-Flashpool-Timestamp"
	HeaderAdminSignature = "X-Flashpool-Signature"
	HeaderAdminIdentity  = "X-Flashpool-Identity"
)

// maxClockSkew bounds how far an admin request timestamp may drift from the
// server clock in either direction.
const maxClockSkew = 30 * time.Second

// AdminAuth holds the shared-secret credentials for the privileged admin
// surface. The signature is HMAC-SHA256(secret, timestamp+method+path+body)
// encoded as base64.
type AdminAuth struct {
	Key    string
	Secret string
}

// Headers returns the HTTP headers for an admin request made now, acting as
// the given identity.
func (a *AdminAuth) Headers(identity, method, path, body string) map[string]string {
	return a.HeadersAt(identity, method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp,
// used for deterministic testing.
func (a *AdminAuth) HeadersAt(identity, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAdminKey:       a.Key,
		HeaderAdminTimestamp: ts,
		HeaderAdminSignature: hmacSHA256Base64([]byte(a.Secret), ts+method+path+body),
		HeaderAdminIdentity:  identity,
	}
}

// VerifyAt checks a presented signature against the expected one for the
// request tuple and rejects stale or future timestamps. now is the server
// clock at verification time.
func (a *AdminAuth) VerifyAt(key, tsStr, signature, method, path, body string, now time.Time) error {
	if key != a.Key {
		return fmt.Errorf("crypto/hmac: unknown api key")
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto/hmac: malformed timestamp: %w", err)
	}
	drift := now.Sub(time.Unix(ts, 0))
	if drift > maxClockSkew || drift < -maxClockSkew {
		return fmt.Errorf("crypto/hmac: timestamp outside allowed skew")
	}
	want := hmacSHA256Base64([]byte(a.Secret), tsStr+method+path+body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("crypto/hmac: signature mismatch")
	}
	return nil
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (a *AdminAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("AdminAuth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}
