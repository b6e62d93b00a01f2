package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignAndRecoverRequest(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)

	body := []byte(`{"min_value":"1000"}`)
	headers, err := s.SignRequest("post", "/api/collections/0xc1/items/1/offer", 1767225600, body)
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), headers[HeaderAddress])
	assert.Equal(t, "1767225600", headers[HeaderTimestamp])

	got, err := RecoverCaller("POST", "/api/collections/0xc1/items/1/offer", headers[HeaderTimestamp], body, headers[HeaderSignature])
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	other, err := RecoverCaller("POST", "/api/collections/0xc1/items/1/offer", headers[HeaderTimestamp], []byte(`{"min_value":"1"}`), headers[HeaderSignature])
	if err == nil {
		assert.NotEqual(t, s.Address(), other, "tampered body recovers a different address")
	}
}

func TestRecoverCallerRejectsGarbage(t *testing.T) {
	_, err := RecoverCaller("GET", "/", "0", nil, "0xzz")
	require.ErrorIs(t, err, ErrBadSignature)

	_, err = RecoverCaller("GET", "/", "0", nil, "0x1234")
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	_, err = EncryptKey(testKey, "")
	require.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
