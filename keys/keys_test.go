package keys

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMnemonic(t *testing.T) string {
	t.Helper()
	entropy, err := bip39.NewEntropy(128)
	require.NoError(t, err)
	m, err := bip39.NewMnemonic(entropy)
	require.NoError(t, err)
	return m
}

// --- Key derivation ---

func TestKeyPairFromSeed_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 64)
	a, err := KeyPairFromSeed(seed, 0)
	require.NoError(t, err)
	b, err := KeyPairFromSeed(seed, 0)
	require.NoError(t, err)
	c, err := KeyPairFromSeed(seed, 1)
	require.NoError(t, err)

	assert.Equal(t, a.PublicKeyHex(), b.PublicKeyHex())
	assert.NotEqual(t, a.PublicKeyHex(), c.PublicKeyHex())
	assert.Equal(t, "m/44'/1000'/0'", a.Path)
	assert.Len(t, a.PublicKeyBytes(), 33)
}

func TestKeyPairFromSeed_Invalid(t *testing.T) {
	_, err := KeyPairFromSeed(nil, 0)
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = KeyPairFromSeed(bytes.Repeat([]byte{1}, 64), Hardened)
	assert.ErrorIs(t, err, ErrDerivationFailed)
}

func TestKeyPairFromMnemonic(t *testing.T) {
	m := testMnemonic(t)
	a, err := KeyPairFromMnemonic(m, "", 3)
	require.NoError(t, err)
	b, err := KeyPairFromMnemonic(m, "", 3)
	require.NoError(t, err)
	assert.Equal(t, a.PublicKeyHex(), b.PublicKeyHex())

	withPass, err := KeyPairFromMnemonic(m, "pass", 3)
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKeyHex(), withPass.PublicKeyHex())

	_, err = KeyPairFromMnemonic("not a mnemonic", "", 0)
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestKeyPairFromHex(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	back, err := KeyPairFromHex(hex.EncodeToString(kp.PrivateKey.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKeyHex(), back.PublicKeyHex())

	_, err = KeyPairFromHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// --- Nonce signatures ---

func TestSignVerifyNonce(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	sig, err := kp.SignNonce("nonce-1")
	require.NoError(t, err)
	assert.True(t, VerifyNonce(kp.PublicKeyBytes(), "nonce-1", sig))
	assert.False(t, VerifyNonce(kp.PublicKeyBytes(), "nonce-2", sig))

	other, err := NewKeyPair()
	require.NoError(t, err)
	assert.False(t, VerifyNonce(other.PublicKeyBytes(), "nonce-1", sig))
}

func TestVerifyNonce_Malformed(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)
	sig, err := kp.SignNonce("n")
	require.NoError(t, err)

	assert.False(t, VerifyNonce([]byte{1, 2, 3}, "n", sig))
	assert.False(t, VerifyNonce(kp.PublicKeyBytes(), "n", []byte("not der")))
	assert.False(t, VerifyNonce(nil, "n", nil))
}

// --- Nonce issuer ---

func TestNonceIssuer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	n := NewNonceIssuer([]byte("secret"), time.Minute)
	n.now = func() time.Time { return now }

	nonce, err := n.Issue("store-a")
	require.NoError(t, err)
	assert.True(t, n.Valid("store-a", nonce))
	assert.False(t, n.Valid("store-b", nonce))

	again, err := n.Issue("store-a")
	require.NoError(t, err)
	assert.Equal(t, nonce, again)

	now = now.Add(time.Minute)
	assert.True(t, n.Valid("store-a", nonce), "previous window still accepted")

	now = now.Add(2 * time.Minute)
	assert.False(t, n.Valid("store-a", nonce), "expired")
}

func TestNonceIssuer_Forged(t *testing.T) {
	n := NewNonceIssuer([]byte("secret"), time.Minute)
	other := NewNonceIssuer([]byte("other secret"), time.Minute)

	forged, err := other.Issue("s")
	require.NoError(t, err)
	assert.False(t, n.Valid("s", forged))

	for _, bad := range []string{"", "nodot", "x.abcd", "123"} {
		assert.False(t, n.Valid("s", bad), bad)
	}
}

func TestNewNonceIssuer_DefaultWindow(t *testing.T) {
	n := NewNonceIssuer(nil, 0)
	assert.Equal(t, DefaultNonceWindow, n.window)
}
