package secretstore

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Credentials(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := Open(OpenOptions{Path: t.TempDir(), EncryptionKey: key})
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.Credentials("binance")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetCredentials("Binance", Credentials{APIKey: "abcd1234efgh5678", APISecret: "s3cr3t"}))
	c, found, err := s.Credentials("binance")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "s3cr3t", c.APISecret)
	assert.Equal(t, "abcd********5678", c.MaskedKey())

	keys, err := s.Keys("binance/")
	require.NoError(t, err)
	assert.Equal(t, []string{"binance/api_key", "binance/api_secret"}, keys)

	assert.Error(t, s.SetCredentials("binance", Credentials{APIKey: "only-key"}))
}

func TestStore_EmptyValueIsFound(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetString("x", ""))
	v, found, err := s.GetString("x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, v)

	require.NoError(t, s.Delete("x"))
	_, found, err = s.GetString("x")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = s.GetString("  ")
	assert.Error(t, err)
}

func TestStore_NotOpened(t *testing.T) {
	var s *Store
	_, _, err := s.GetString("a")
	assert.ErrorIs(t, err, ErrNotOpened)
	assert.NoError(t, s.Close())
}

func TestParseKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	b, err := ParseKey(hexKey)
	require.NoError(t, err)
	assert.Len(t, b, 32)

	b, err = ParseKey("0x" + hexKey)
	require.NoError(t, err)
	assert.Len(t, b, 32)

	b, err = ParseKey(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	assert.Len(t, b, 32)

	b, err = ParseKey("")
	assert.NoError(t, err)
	assert.Nil(t, b)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
	_, err = ParseKey("not a key!")
	assert.Error(t, err)
}
