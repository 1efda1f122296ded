// Package keys holds store-owner keys and the nonce challenge used to prove
// write access to a peer.
package keys

import (
	"encoding/hex"
	"fmt"

	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	chaincfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
)

const (
	// PurposeBIP44 and CoinTypeStore form the owner key path m/44'/1000'/index'.
	PurposeBIP44  = 44
	CoinTypeStore = 1000

	// Hardened is the BIP32 hardened offset.
	Hardened = 0x80000000
)

// KeyPair holds a store-owner key.
type KeyPair struct {
	PrivateKey *ec.PrivateKey `json:"-"`
	PublicKey  *ec.PublicKey  `json:"public_key"`
	Path       string         `json:"path"`
}

// NewKeyPair generates a random key pair.
func NewKeyPair() (*KeyPair, error) {
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: priv.PubKey()}, nil
}

// KeyPairFromHex parses a hex-encoded 32-byte private key.
func KeyPairFromHex(s string) (*KeyPair, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: private key must be 64 hex characters", ErrInvalidKey)
	}
	priv, _ := ec.PrivateKeyFromBytes(raw)
	return &KeyPair{PrivateKey: priv, PublicKey: priv.PubKey()}, nil
}

// KeyPairFromSeed derives the owner key for account index from a BIP39 seed.
//
//	Path: m/44'/1000'/index'
func KeyPairFromSeed(seed []byte, index uint32) (*KeyPair, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	if index >= Hardened {
		return nil, fmt.Errorf("%w: index %d exceeds BIP32 hardened boundary", ErrDerivationFailed, index)
	}

	master, err := bip32.NewMaster(seed, &chaincfg.MainNet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	key := master
	for _, child := range []uint32{PurposeBIP44 + Hardened, CoinTypeStore + Hardened, index + Hardened} {
		key, err = key.Child(child)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to extract EC private key: %w", ErrDerivationFailed, err)
	}
	return &KeyPair{
		PrivateKey: priv,
		PublicKey:  priv.PubKey(),
		Path:       fmt.Sprintf("m/44'/%d'/%d'", CoinTypeStore, index),
	}, nil
}

// KeyPairFromMnemonic derives the owner key for index from a BIP39 mnemonic.
func KeyPairFromMnemonic(mnemonic, passphrase string, index uint32) (*KeyPair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMnemonic, err)
	}
	return KeyPairFromSeed(seed, index)
}

// PublicKeyHex returns the compressed public key in hex.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey.Compressed())
}
