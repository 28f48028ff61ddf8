package fieldcrypt

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine([]byte("master-secret-for-tests"), Options{Environment: "testing"})
	require.NoError(t, err)
	return e
}

func TestEngine_RoundTrip(t *testing.T) {
	e := newEngine(t)
	ctx := Context{TenantID: "school-a", Purpose: "student_records"}

	for _, plain := range []string{"a", " ", "siti@example.sch.id", "081234567890", "Rp 1.250.000 (lunas)", strings.Repeat("x", 4096)} {
		enc, err := e.Encrypt(plain, ctx)
		require.NoError(t, err)
		require.True(t, IsEncrypted(enc), "missing marker on %q", enc)

		dec, err := e.Decrypt(enc, ctx)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}
}

func TestEngine_WireFormat(t *testing.T) {
	e := newEngine(t)
	enc, err := e.Encrypt("hello", Context{})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(enc, Prefix))
	require.NoError(t, err)
	assert.Len(t, raw, nonceSize+tagSize+len("hello"))
}

func TestEngine_FreshNoncePerCall(t *testing.T) {
	e := newEngine(t)
	a, _ := e.Encrypt("same", Context{})
	b, _ := e.Encrypt("same", Context{})
	assert.NotEqual(t, a, b)
}

func TestEngine_ContextIsolation(t *testing.T) {
	e := newEngine(t)
	enc, err := e.Encrypt("3201010101010001", Context{TenantID: "school-a"})
	require.NoError(t, err)

	_, err = e.Decrypt(enc, Context{TenantID: "school-b"})
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = e.Decrypt(enc, Context{TenantID: "school-a", Purpose: "billing"})
	assert.ErrorIs(t, err, ErrDecryption)

	other, _ := NewEngine([]byte("master-secret-for-tests"), Options{Environment: "production"})
	_, err = other.Decrypt(enc, Context{TenantID: "school-a"})
	assert.ErrorIs(t, err, ErrDecryption, "environment is part of the context")
}

func TestEngine_DefaultsMatchExplicitContext(t *testing.T) {
	e := newEngine(t)
	enc, _ := e.Encrypt("v", Context{})
	dec, err := e.Decrypt(enc, Context{TenantID: DefaultTenant, Environment: "testing", Purpose: DefaultPurpose})
	require.NoError(t, err)
	assert.Equal(t, "v", dec)
}

func TestEngine_PassThrough(t *testing.T) {
	e := newEngine(t)

	out, err := e.Encrypt("", Context{})
	require.NoError(t, err)
	assert.Equal(t, "", out)

	out, err = e.Decrypt("plain value", Context{})
	require.NoError(t, err)
	assert.Equal(t, "plain value", out)

	enc, _ := e.Encrypt("x", Context{})
	again, err := e.Encrypt(enc, Context{})
	require.NoError(t, err)
	assert.Equal(t, enc, again, "already-encrypted values must not be wrapped twice")
}

func TestEngine_TamperedValues(t *testing.T) {
	e := newEngine(t)
	enc, _ := e.Encrypt("secret", Context{})
	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(enc, Prefix))
	raw[len(raw)-1] ^= 0xff
	tampered := Prefix + base64.StdEncoding.EncodeToString(raw)

	for _, v := range []string{tampered, Prefix + "!!!", Prefix + base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := e.Decrypt(v, Context{})
		assert.ErrorIs(t, err, ErrDecryption, v)
	}
}

func TestEngine_NeedsRotation(t *testing.T) {
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	e, _ := NewEngine([]byte("k"), Options{LastRotation: now.Add(-89 * 24 * time.Hour)})
	assert.False(t, e.NeedsRotation(now))
	assert.True(t, e.NeedsRotation(now.Add(24*time.Hour)))

	unknown, _ := NewEngine([]byte("k"), Options{})
	assert.True(t, unknown.NeedsRotation(now))
	assert.Equal(t, "2160h0m0s", unknown.Status(now).RotationInterval)
}

func TestNewEngine_RequiresKey(t *testing.T) {
	_, err := NewEngine(nil, Options{})
	assert.Error(t, err)
}

func TestEngine_PayloadRoundTripIsStable(t *testing.T) {
	e := newEngine(t)
	ctx := Context{TenantID: "school-a"}

	var payload interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"data": {
			"name": "Budi",
			"email": "budi@example.com",
			"guardians": [{"phone": "081234567890", "relation": "father"}],
			"nik": ""
		},
		"meta": {"count": 1}
	}`), &payload))

	require.NoError(t, e.EncryptPayload(payload, ctx))
	data := payload.(map[string]interface{})["data"].(map[string]interface{})
	firstPass := data["email"].(string)
	assert.True(t, IsEncrypted(firstPass))
	assert.Equal(t, "Budi", data["name"])
	assert.Equal(t, "", data["nik"])
	guardian := data["guardians"].([]interface{})[0].(map[string]interface{})
	assert.True(t, IsEncrypted(guardian["phone"].(string)))
	assert.Equal(t, "father", guardian["relation"])

	// A second pass through the response path leaves ciphertext untouched.
	require.NoError(t, e.EncryptPayload(payload, ctx))
	assert.Equal(t, firstPass, data["email"])

	require.NoError(t, e.DecryptPayload(payload, ctx))
	assert.Equal(t, "budi@example.com", data["email"])
	assert.Equal(t, "081234567890", guardian["phone"])
}

func TestEngine_DecryptPayloadFailsHard(t *testing.T) {
	e := newEngine(t)
	enc, _ := e.Encrypt("x@y.z", Context{TenantID: "a"})
	payload := map[string]interface{}{"email": enc}
	err := e.DecryptPayload(payload, Context{TenantID: "b"})
	assert.ErrorIs(t, err, ErrDecryption)
}
