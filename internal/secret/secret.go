// Package secret turns room passwords into comparable one-way digests.
package secret

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 32 * 1024
	argonThreads = 2
	digestLen    = 32
)

// Hasher is deterministic for a given salt, so digests can be compared
// directly instead of re-deriving from a stored per-room salt.
type Hasher struct {
	salt []byte
}

func NewHasher(salt string) Hasher {
	if salt == "" {
		salt = "gamenight-bracket"
	}
	return Hasher{salt: []byte(salt)}
}

// Digest returns nil for an empty secret, meaning "no lock".
func (h Hasher) Digest(secret string) []byte {
	if secret == "" {
		return nil
	}
	return argon2.IDKey([]byte(secret), h.salt, argonTime, argonMemory, argonThreads, digestLen)
}

func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
