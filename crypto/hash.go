package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type HashConfig struct {
	Cost int `envconfig:"BCRYPT_COST" default:"12"`
}

// SecretHasher hashes operator API keys for storage in configuration.
type SecretHasher struct {
	cost int
}

func NewSecretHasher(cfg HashConfig) *SecretHasher {
	cost := cfg.Cost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &SecretHasher{cost: cost}
}

func (h *SecretHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("crypto: secret cannot be empty")
	}

	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to hash secret: %w", err)
	}
	return string(out), nil
}

// CheckSecret compares a presented secret against a stored bcrypt hash.
func CheckSecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
