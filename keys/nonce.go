package keys

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// DefaultNonceWindow is how long an issued nonce stays valid, at least.
const DefaultNonceWindow = 5 * time.Minute

const nonceLen = 16

// NonceIssuer hands out upload nonces without keeping state. A nonce is
// derived from a server secret, the store id and the current time window, so
// it can be checked later by deriving it again. Nonces from the current and
// the previous window are accepted.
type NonceIssuer struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// NewNonceIssuer creates an issuer. A window of zero uses DefaultNonceWindow.
func NewNonceIssuer(secret []byte, window time.Duration) *NonceIssuer {
	if window <= 0 {
		window = DefaultNonceWindow
	}
	return &NonceIssuer{
		secret: append([]byte(nil), secret...),
		window: window,
		now:    time.Now,
	}
}

func (n *NonceIssuer) epoch(t time.Time) int64 {
	return t.UnixNano() / int64(n.window)
}

func (n *NonceIssuer) derive(storeID string, epoch int64) (string, error) {
	r := hkdf.New(sha256.New, n.secret, []byte(storeID), []byte("dig-upload-nonce:"+strconv.FormatInt(epoch, 10)))
	out := make([]byte, nonceLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return strconv.FormatInt(epoch, 10) + "." + hex.EncodeToString(out), nil
}

// Issue returns the nonce for storeID in the current window.
func (n *NonceIssuer) Issue(storeID string) (string, error) {
	nonce, err := n.derive(storeID, n.epoch(n.now()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidNonce, err)
	}
	return nonce, nil
}

// Valid reports whether nonce was issued for storeID recently enough.
func (n *NonceIssuer) Valid(storeID, nonce string) bool {
	epochStr, _, ok := strings.Cut(nonce, ".")
	if !ok {
		return false
	}
	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil {
		return false
	}
	current := n.epoch(n.now())
	if epoch != current && epoch != current-1 {
		return false
	}
	want, err := n.derive(storeID, epoch)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(nonce))
}
