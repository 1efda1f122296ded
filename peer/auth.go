package peer

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost used by HashPassword.
const DefaultBcryptCost = 10

// Credentials is the Basic-auth account allowed to upload.
type Credentials struct {
	Username     string
	PasswordHash string
}

// HashPassword returns the bcrypt hash stored in Credentials.
func HashPassword(password string) (string, error) {
	if password == "" || len(password) > 72 {
		return "", fmt.Errorf("%w: must be 1 to 72 bytes", ErrInvalidPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPassword, err)
	}
	return string(hash), nil
}

// NewCredentials hashes password for username.
func NewCredentials(username, password string) (*Credentials, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Credentials{Username: username, PasswordHash: hash}, nil
}

// Check reports whether username and password match.
func (c *Credentials) Check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) == nil
	return userOK && passOK
}

// Writers is the set of public keys allowed to upload, globally or per store.
type Writers struct {
	any   map[string]struct{}
	store map[string]map[string]struct{}
}

// NewWriters returns an empty set; nobody may upload until keys are added.
func NewWriters() *Writers {
	return &Writers{any: make(map[string]struct{}), store: make(map[string]map[string]struct{})}
}

// Allow authorizes the hex-encoded compressed public keys for every store.
func (w *Writers) Allow(pubKeys ...string) *Writers {
	for _, k := range pubKeys {
		w.any[strings.ToLower(k)] = struct{}{}
	}
	return w
}

// AllowStore authorizes the keys for storeID only.
func (w *Writers) AllowStore(storeID string, pubKeys ...string) *Writers {
	set, ok := w.store[storeID]
	if !ok {
		set = make(map[string]struct{})
		w.store[storeID] = set
	}
	for _, k := range pubKeys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return w
}

// Authorized reports whether pubKey may write storeID.
func (w *Writers) Authorized(storeID string, pubKey []byte) bool {
	k := hex.EncodeToString(pubKey)
	if _, ok := w.any[k]; ok {
		return true
	}
	_, ok := w.store[storeID][k]
	return ok
}
