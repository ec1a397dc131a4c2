package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest configured secret accepted for key derivation.
const MinSecretLength = 32

var ErrWeakSecret = errors.New("crypto: secret is too short")

// DeriveKey expands a configured secret into a purpose-bound key of size bytes.
// Different info labels yield independent keys from the same secret.
func DeriveKey(secret []byte, info string, size int) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}
	if size <= 0 {
		return nil, errors.New("crypto: key size must be positive")
	}

	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand failed: %w", err)
	}
	return key, nil
}
