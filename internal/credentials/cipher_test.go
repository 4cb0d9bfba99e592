package credentials

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	for _, plain := range []string{"buyer@county.gov", "p@ss wörd", ""} {
		sealed, err := c.Seal(plain)
		require.NoError(t, err)
		assert.Len(t, sealed.IV, nonceLength*2)
		assert.Len(t, sealed.AuthTag, tagLength*2)

		got, err := c.Decrypt(sealed.Ciphertext, sealed.IV, sealed.AuthTag)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}

	a, err := c.Seal("same")
	require.NoError(t, err)
	b, err := c.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a.IV, b.IV)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)
	sealed, err := c.Seal("secret")
	require.NoError(t, err)

	flip := func(h string) string {
		if h[0] == '0' {
			return "1" + h[1:]
		}
		return "0" + h[1:]
	}

	_, err = c.Decrypt(flip(sealed.Ciphertext), sealed.IV, sealed.AuthTag)
	assert.Error(t, err)
	_, err = c.Decrypt(sealed.Ciphertext, flip(sealed.IV), sealed.AuthTag)
	assert.Error(t, err)
	_, err = c.Decrypt(sealed.Ciphertext, sealed.IV, flip(sealed.AuthTag))
	assert.Error(t, err)
	_, err = c.Decrypt("zz", sealed.IV, sealed.AuthTag)
	assert.Error(t, err)

	other, err := NewCipher(strings.Repeat("ab", 32))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed.Ciphertext, sealed.IV, sealed.AuthTag)
	assert.Error(t, err)
}

func TestNewCipherKeyValidation(t *testing.T) {
	_, err := NewCipher("abc")
	assert.Error(t, err)
	_, err = NewCipher(strings.Repeat("ab", 16))
	assert.Error(t, err)

	empty, err := NewCipher("")
	require.NoError(t, err)
	_, err = empty.Seal("x")
	assert.ErrorIs(t, err, ErrNoKey)
	_, err = empty.Decrypt("00", "00", strings.Repeat("00", 16))
	assert.ErrorIs(t, err, ErrNoKey)

	key, err := GenerateKey()
	require.NoError(t, err)
	_, err = NewCipher(key)
	assert.NoError(t, err)
}
