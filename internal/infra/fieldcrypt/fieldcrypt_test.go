package fieldcrypt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *SecretBox {
	t.Helper()
	encoded, err := GenerateKey()
	require.NoError(t, err)
	key, err := ParseKey(encoded)
	require.NoError(t, err)
	c, err := NewSecretBox(key)
	require.NoError(t, err)
	return c
}

func TestSecretBoxRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	sealed, err := c.Seal([]byte("guardian phone"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "guardian")

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "guardian phone", string(opened))
}

func TestSecretBoxRejectsWrongKey(t *testing.T) {
	sealed, err := newTestCipher(t).Seal([]byte("x"))
	require.NoError(t, err)
	_, err = newTestCipher(t).Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = newTestCipher(t).Open([]byte("short"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewSecretBoxKeyLength(t *testing.T) {
	_, err := NewSecretBox([]byte("too short"))
	assert.Error(t, err)
	_, err = ParseKey("not base64!")
	assert.Error(t, err)
}

func TestSealJSONProducesValidJSON(t *testing.T) {
	c := newTestCipher(t)
	doc := []byte(`{"c1":{"first_name":"Ada"}}`)

	sealed, err := SealJSON(c, doc)
	require.NoError(t, err)
	assert.True(t, json.Valid(sealed))
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, string(sealed), "Ada")

	opened, err := OpenJSON(c, sealed)
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(opened))
}

func TestOpenJSONPassesPlaintextThrough(t *testing.T) {
	doc := []byte(`{"a":1}`)
	out, err := OpenJSON(newTestCipher(t), doc)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
	assert.False(t, IsSealed(doc))

	plain, err := SealJSON(Plaintext{}, doc)
	require.NoError(t, err)
	assert.Equal(t, doc, plain)
}

func TestOpenJSONWithoutKeyFails(t *testing.T) {
	sealed, err := SealJSON(newTestCipher(t), []byte(`{}`))
	require.NoError(t, err)
	_, err = OpenJSON(Plaintext{}, sealed)
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	assert.NoError(t, Verify(newTestCipher(t)))
	assert.NoError(t, Verify(Plaintext{}))
}

func TestSealStringRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	sealed, err := SealString(c, "555-0100")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "555-0100")

	opened, err := OpenString(c, sealed)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", opened)

	_, err = OpenString(Plaintext{}, sealed)
	assert.Error(t, err)

	plain, err := SealString(Plaintext{}, "555-0100")
	require.NoError(t, err)
	assert.Equal(t, "555-0100", plain)
	opened, err = OpenString(c, plain)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", opened)
}
