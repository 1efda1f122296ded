package keys

import "errors"

var (
	// ErrInvalidSeed indicates an empty or malformed seed.
	ErrInvalidSeed = errors.New("keys: invalid seed")

	// ErrInvalidMnemonic indicates the mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = errors.New("keys: invalid BIP39 mnemonic")

	// ErrDerivationFailed indicates BIP32 key derivation failed.
	ErrDerivationFailed = errors.New("keys: key derivation failed")

	// ErrInvalidKey indicates a key could not be parsed.
	ErrInvalidKey = errors.New("keys: invalid key")

	// ErrSignFailed indicates signing a nonce failed.
	ErrSignFailed = errors.New("keys: signing failed")

	// ErrInvalidNonce indicates a nonce is malformed, forged or expired.
	ErrInvalidNonce = errors.New("keys: invalid nonce")
)
