package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAuthRoundTrip(t *testing.T) {
	auth := &AdminAuth{Key: "ops-key", Secret: "ops-secret"}
	now := time.Unix(1_756_000_000, 0)

	h := auth.HeadersAt("ops-admin", "POST", "/admin/settle", `{"events":[]}`, now.Unix())
	require.Equal(t, "ops-key", h[HeaderAdminKey])
	require.Equal(t, "ops-admin", h[HeaderAdminIdentity])

	err := auth.VerifyAt(h[HeaderAdminKey], h[HeaderAdminTimestamp], h[HeaderAdminSignature],
		"POST", "/admin/settle", `{"events":[]}`, now)
	assert.NoError(t, err)
}

func TestAdminAuthRejectsMismatch(t *testing.T) {
	auth := &AdminAuth{Key: "ops-key", Secret: "ops-secret"}
	now := time.Unix(1_756_000_000, 0)
	h := auth.HeadersAt("ops-admin", "POST", "/admin/settle", "body", now.Unix())

	// Wrong key.
	err := auth.VerifyAt("other-key", h[HeaderAdminTimestamp], h[HeaderAdminSignature], "POST", "/admin/settle", "body", now)
	assert.Error(t, err)

	// Body substitution.
	err = auth.VerifyAt(h[HeaderAdminKey], h[HeaderAdminTimestamp], h[HeaderAdminSignature], "POST", "/admin/settle", "tampered", now)
	assert.Error(t, err)

	// Path substitution.
	err = auth.VerifyAt(h[HeaderAdminKey], h[HeaderAdminTimestamp], h[HeaderAdminSignature], "POST", "/admin/void", "body", now)
	assert.Error(t, err)
}

func TestAdminAuthRejectsStaleTimestamp(t *testing.T) {
	auth := &AdminAuth{Key: "ops-key", Secret: "ops-secret"}
	now := time.Unix(1_756_000_000, 0)
	h := auth.HeadersAt("ops-admin", "GET", "/admin/fees", "", now.Unix())

	err := auth.VerifyAt(h[HeaderAdminKey], h[HeaderAdminTimestamp], h[HeaderAdminSignature], "GET", "/admin/fees", "", now.Add(31*time.Second))
	assert.Error(t, err)

	err = auth.VerifyAt(h[HeaderAdminKey], h[HeaderAdminTimestamp], h[HeaderAdminSignature], "GET", "/admin/fees", "", now.Add(-31*time.Second))
	assert.Error(t, err)

	err = auth.VerifyAt(h[HeaderAdminKey], h[HeaderAdminTimestamp], h[HeaderAdminSignature], "GET", "/admin/fees", "", now.Add(29*time.Second))
	assert.NoError(t, err)
}

func TestAdminAuthStringRedacts(t *testing.T) {
	auth := &AdminAuth{Key: "ops-key-long", Secret: "super-secret-value"}
	s := auth.String()
	assert.NotContains(t, s, "super-secret-value")
	assert.Contains(t, s, "ops-****")
}

func TestKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyA, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyA, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyValidation(t *testing.T) {
	_, err := EncryptKey(testKeyA, "")
	assert.Error(t, err)

	_, err = EncryptKey("zz", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err)
}

func TestLoadKeyRawPrecedence(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyA})
	require.NoError(t, err)
	assert.Equal(t, testKeyA, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}
