package keys

import (
	"crypto/sha256"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// Signer proves ownership of a store by signing peer-issued nonces.
type Signer interface {
	// PublicKeyBytes returns the compressed public key sent alongside signatures.
	PublicKeyBytes() []byte
	// SignNonce returns a DER signature over SHA-256(nonce).
	SignNonce(nonce string) ([]byte, error)
}

var _ Signer = (*KeyPair)(nil)

// PublicKeyBytes implements Signer.
func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.PublicKey.Compressed()
}

// SignNonce implements Signer.
func (kp *KeyPair) SignNonce(nonce string) ([]byte, error) {
	digest := sha256.Sum256([]byte(nonce))
	sig, err := kp.PrivateKey.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignFailed, err)
	}
	return sig.Serialize(), nil
}

// VerifyNonce reports whether sig is pubKey's signature over nonce.
func VerifyNonce(pubKey []byte, nonce string, sig []byte) bool {
	pub, err := ec.PublicKeyFromBytes(pubKey)
	if err != nil {
		return false
	}
	parsed, err := ec.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(nonce))
	return parsed.Verify(digest[:], pub)
}
