package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dignetwork/digstore-go/merkle"
)

// Token is a portable inclusion proof for one key at one root.
type Token struct {
	Key      string      `json:"key"`
	RootHash merkle.Hash `json:"rootHash"`
	Proof    string      `json:"proof"`
}

// Encode serializes the token as hex-encoded JSON.
func (t Token) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}

// DecodeToken parses the output of Token.Encode. Only the canonical
// encoding is accepted, so any altered byte is rejected even where hex and
// JSON decoding would be lenient (letter case, field name case).
func DecodeToken(s string) (Token, error) {
	var t Token
	data, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	canonical, err := t.Encode()
	if err != nil || canonical != s {
		return Token{}, fmt.Errorf("%w: not in canonical form", ErrInvalidToken)
	}
	return t, nil
}

// Siblings decodes the proof path.
func (t Token) Siblings() ([]merkle.Hash, error) {
	return merkle.DecodeProof(t.Proof)
}
