package wallet

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (address derived from private key 0x...01).
const (
	keyOne     = "0000000000000000000000000000000000000000000000000000000000000001"
	addressOne = "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
)

func TestFromHex_DerivesAddress(t *testing.T) {
	w, err := FromHex(keyOne)
	require.NoError(t, err)
	assert.Equal(t, addressOne, w.Address())
	assert.Equal(t, keyOne, w.PrivateKeyHex())

	w, err = FromHex("0x" + keyOne)
	require.NoError(t, err)
	assert.Equal(t, addressOne, w.Address())
}

func TestFromHex_Invalid(t *testing.T) {
	for _, in := range []string{"", "zz", "01", hex.EncodeToString(make([]byte, 32))} {
		_, err := FromHex(in)
		assert.ErrorIs(t, err, ErrInvalidKey, "input %q", in)
	}
}

func TestHashPersonalMessage(t *testing.T) {
	// keccak256("\x19Ethereum Signed Message:\n5hello")
	assert.Equal(t,
		"50b2c43fd39106bafbba0da34fc430e1f91e3c96ea2acee2bc34119f92b37750",
		hex.EncodeToString(HashPersonalMessage("hello")))
}

func TestSignAndRecover(t *testing.T) {
	ctx := context.Background()
	w, err := Generate()
	require.NoError(t, err)

	sig, err := w.Sign(ctx, "publickey:0xabc\ndurationDays:30")
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	recovered, err := RecoverAddress("publickey:0xabc\ndurationDays:30", sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), recovered)

	require.NoError(t, VerifySignature(w.Address(), "publickey:0xabc\ndurationDays:30", sig))
}

func TestVerifySignature_Rejects(t *testing.T) {
	ctx := context.Background()
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	sig, err := alice.Sign(ctx, "message")
	require.NoError(t, err)

	assert.ErrorIs(t, VerifySignature(bob.Address(), "message", sig), ErrSignerMismatch)
	assert.ErrorIs(t, VerifySignature(alice.Address(), "other message", sig), ErrSignerMismatch)
	assert.ErrorIs(t, VerifySignature(alice.Address(), "message", "0x1234"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(alice.Address(), "message", "not hex"), ErrInvalidSignature)
}

func TestVerifySignature_AddressCaseInsensitive(t *testing.T) {
	w, err := FromHex(keyOne)
	require.NoError(t, err)
	sig, err := w.Sign(context.Background(), "hi")
	require.NoError(t, err)

	require.NoError(t, VerifySignature("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", "hi", sig))
}

func TestSign_CancelledContext(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = w.Sign(ctx, "message")
	assert.ErrorIs(t, err, context.Canceled)
}
