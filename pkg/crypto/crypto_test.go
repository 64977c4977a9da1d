package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	sealed, err := Encrypt("imap-app-password", "deployment-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "imap-app-password", sealed)

	opened, err := Decrypt(sealed, "deployment-secret")
	require.NoError(t, err)
	assert.Equal(t, "imap-app-password", opened)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	sealed, err := Encrypt("imap-app-password", "deployment-secret")
	require.NoError(t, err)

	_, err = Decrypt(sealed, "other-secret")
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	_, err := Decrypt("not base64 at all!", "deployment-secret")
	assert.Error(t, err)

	_, err = Decrypt("dG9vc2hvcnQ=", "deployment-secret")
	assert.Error(t, err)
}

func TestEmptyKeyRefused(t *testing.T) {
	_, err := Encrypt("x", "")
	assert.Error(t, err)
	_, err = Decrypt("x", "")
	assert.Error(t, err)
}
