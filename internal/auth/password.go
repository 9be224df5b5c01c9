package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// Hasher hashes and verifies secrets with argon2id. One instance is shared by
// the account login path and the private-room password path; both kinds of
// secret use the same parameters.
type Hasher struct {
	params *argon2id.Params
}

// NewHasher creates a Hasher with the given argon2id parameters.
func NewHasher(memory, iterations uint32, parallelism uint8, saltLen, keyLen uint32) *Hasher {
	return &Hasher{
		params: &argon2id.Params{
			Memory:      memory,
			Iterations:  iterations,
			Parallelism: parallelism,
			SaltLength:  saltLen,
			KeyLength:   keyLen,
		},
	}
}

// Hash returns the argon2id hash of the given secret.
func (h *Hasher) Hash(secret string) (string, error) {
	hash, err := argon2id.CreateHash(secret, h.params)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return hash, nil
}

// Verify reports whether the plaintext secret matches the given hash.
func (h *Hasher) Verify(secret, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(secret, hash)
	if err != nil {
		return false, fmt.Errorf("verify secret: %w", err)
	}
	return match, nil
}
