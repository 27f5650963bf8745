package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	pbkdf2Iterations = 1000
}

func TestEncryptDecryptToken(t *testing.T) {
	blob, err := EncryptToken("eyJhbGciOi.token", "hunter2")
	require.NoError(t, err)

	got, err := DecryptToken(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOi.token", got)

	_, err = DecryptToken(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadToken(t *testing.T) {
	got, err := LoadToken(TokenConfig{Token: "  plain  ", EncryptedPath: "/does/not/matter"})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	blob, err := EncryptToken("secret", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadToken(TokenConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "secret", got)

	_, err = LoadToken(TokenConfig{})
	assert.Error(t, err)
}

func TestEncryptTokenRejectsEmptyInput(t *testing.T) {
	_, err := EncryptToken("", "pw")
	assert.Error(t, err)
	_, err = EncryptToken("tok", "")
	assert.Error(t, err)
}
