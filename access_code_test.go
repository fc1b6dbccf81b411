package cardwallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastScrypt keeps the keystore tests quick.
var fastScrypt = ScryptParams{N: 16, R: 8, P: 1, DKLen: 32}

func testRepositories(t *testing.T) map[string]AccessCodeRepository {
	return map[string]AccessCodeRepository{
		"memory": NewMemoryAccessCodeRepository(),
		"file":   NewFileAccessCodeRepository(filepath.Join(t.TempDir(), "codes", "keystore.json"), "hunter2", fastScrypt),
	}
}

func TestAccessCodeRepository(t *testing.T) {
	for name, repository := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {

			_, ok, err := repository.Get("AA00000000000001")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, repository.Save([]string{"AA00000000000001", "AA00000000000002"}, "7391"))

			code, ok, err := repository.Get("AA00000000000002")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "7391", code)

			require.NoError(t, repository.Delete("AA00000000000001"))

			_, ok, err = repository.Get("AA00000000000001")
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = repository.Get("AA00000000000002")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestFileAccessCodeRepository(t *testing.T) {

	path := filepath.Join(t.TempDir(), "keystore.json")

	t.Run("stores only ciphertext", func(t *testing.T) {
		repository := NewFileAccessCodeRepository(path, "hunter2", fastScrypt)
		require.NoError(t, repository.Save([]string{"AA00000000000001"}, "secret-code"))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "secret-code")

		var file keystoreFile
		require.NoError(t, json.Unmarshal(raw, &file))
		assert.Equal(t, 3, file.Version)
		assert.NotEmpty(t, file.ID)

		entry := file.Entries["AA00000000000001"]
		assert.Equal(t, "aes-128-ctr", entry.Cipher)
		assert.Equal(t, "scrypt", entry.KDF)
		assert.Equal(t, 16, entry.KDFParams.N)
	})

	t.Run("reopens with the same password", func(t *testing.T) {
		repository := NewFileAccessCodeRepository(path, "hunter2", fastScrypt)
		code, ok, err := repository.Get("AA00000000000001")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "secret-code", code)
	})

	t.Run("rejects another password", func(t *testing.T) {
		repository := NewFileAccessCodeRepository(path, "wrong", fastScrypt)
		_, _, err := repository.Get("AA00000000000001")
		assert.ErrorIs(t, err, ErrInvalidAccessCode)
	})

	t.Run("rejects a corrupt file", func(t *testing.T) {
		corrupt := filepath.Join(t.TempDir(), "corrupt.json")
		require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o600))

		repository := NewFileAccessCodeRepository(corrupt, "hunter2", fastScrypt)
		_, _, err := repository.Get("AA00000000000001")
		assert.Error(t, err)
	})
}
