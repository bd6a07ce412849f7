package db

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func initTestKey(t *testing.T) {
	t.Helper()
	require.NoError(t, InitEncryption([]byte("0123456789abcdef0123456789abcdef")))
}

func TestInitEncryptionRejectsShortSecret(t *testing.T) {
	err := InitEncryption([]byte("too-short"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least 16 bytes")
}

func TestEncryptedStringRoundTrip(t *testing.T) {
	initTestKey(t)

	original := EncryptedString("hunter2-token")
	value, err := original.Value()
	require.NoError(t, err)

	stored, ok := value.(string)
	require.True(t, ok)
	require.NotEqual(t, string(original), stored) // never stored in the clear
	_, err = base64.StdEncoding.DecodeString(stored)
	require.NoError(t, err)

	var decoded EncryptedString
	require.NoError(t, decoded.Scan(stored))
	require.Equal(t, original, decoded)
}

func TestEncryptedStringNonceVariesPerWrite(t *testing.T) {
	initTestKey(t)

	v1, err := EncryptedString("same").Value()
	require.NoError(t, err)
	v2, err := EncryptedString("same").Value()
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)
}

func TestEncryptedStringEmptyPassthrough(t *testing.T) {
	initTestKey(t)

	value, err := EncryptedString("").Value()
	require.NoError(t, err)
	require.Equal(t, "", value)

	var decoded EncryptedString
	require.NoError(t, decoded.Scan(""))
	require.Equal(t, EncryptedString(""), decoded)

	require.NoError(t, decoded.Scan(nil))
	require.Equal(t, EncryptedString(""), decoded)
}

func TestEncryptedStringRejectsTamperedCiphertext(t *testing.T) {
	initTestKey(t)

	value, err := EncryptedString("secret").Value()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(value.(string))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	var decoded EncryptedString
	require.Error(t, decoded.Scan(tampered))
}
