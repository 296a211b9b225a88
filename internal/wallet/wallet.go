// Package wallet implements account identities compatible with Ethereum
// personal_sign: secp256k1 keys, Keccak-256 addresses and 65-byte
// recoverable signatures.
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	secp256k1 "github.com/btcsuite/btcd/btcec"
	"golang.org/x/crypto/sha3"

	"github.com/ksred/fhenergy-api/internal/types"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signature does not belong to claimed address")
	ErrInvalidKey       = errors.New("invalid private key")
)

// Wallet holds a private key and signs messages on behalf of its address.
type Wallet struct {
	key     *secp256k1.PrivateKey
	address string
}

// Generate creates a wallet with a fresh random key.
func Generate() (*Wallet, error) {
	key, err := secp256k1.NewPrivateKey(secp256k1.S256())
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return fromKey(key), nil
}

// FromHex loads a wallet from a hex-encoded 32-byte private key.
func FromHex(privateKeyHex string) (*Wallet, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	key, _ := secp256k1.PrivKeyFromBytes(secp256k1.S256(), raw)
	if key.D.Sign() == 0 || key.D.Cmp(secp256k1.S256().N) >= 0 {
		return nil, ErrInvalidKey
	}
	return fromKey(key), nil
}

func fromKey(key *secp256k1.PrivateKey) *Wallet {
	return &Wallet{key: key, address: addressOf(key.PubKey())}
}

// Address is the lower-case 0x-prefixed account address.
func (w *Wallet) Address() string {
	return w.address
}

// PrivateKeyHex exports the key for storage.
func (w *Wallet) PrivateKeyHex() string {
	return hex.EncodeToString(w.key.Serialize())
}

// Identity returns the wallet address.
func (w *Wallet) Identity(ctx context.Context) (string, error) {
	return w.address, ctx.Err()
}

// Sign produces a 0x-prefixed R || S || V personal_sign signature.
func (w *Wallet) Sign(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	compact, err := secp256k1.SignCompact(secp256k1.S256(), w.key, HashPersonalMessage(message), false)
	if err != nil {
		return "", err
	}
	// compact is V || R || S with V in {27, 28}.
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig), nil
}

// HashPersonalMessage applies the personal_sign prefix and hashes with Keccak-256.
func HashPersonalMessage(message string) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return h.Sum(nil)
}

// RecoverAddress returns the address whose key produced signature over message.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil || len(sig) != 65 {
		return "", ErrInvalidSignature
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", ErrInvalidSignature
	}

	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], sig[:64])
	pub, _, err := secp256k1.RecoverCompact(secp256k1.S256(), compact, HashPersonalMessage(message))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return addressOf(pub), nil
}

// VerifySignature checks that signature over message was made by address.
func VerifySignature(address, message, signature string) error {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}
	if recovered != types.NormalizeIdentity(address) {
		return ErrSignerMismatch
	}
	return nil
}

func addressOf(pub *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return "0x" + hex.EncodeToString(h.Sum(nil)[12:])
}
