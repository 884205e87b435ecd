package account

import (
	"crypto/subtle"
	"strings"

	"toolcustody/config"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and checks stored passwords.
type Hasher interface {
	Hash(plain string) (string, error)
	// Verify reports whether plain matches stored, and whether stored
	// should be replaced with a fresh hash.
	Verify(stored, plain string) (ok, rehash bool)
}

// PlainHasher keeps passwords as they are (legacy mode).
type PlainHasher struct{}

func (PlainHasher) Hash(plain string) (string, error) { return plain, nil }

func (PlainHasher) Verify(stored, plain string) (bool, bool) {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1, false
}

// BcryptHasher stores bcrypt hashes. Rows still holding a plaintext password
// are accepted once and flagged for rehash.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h BcryptHasher) Verify(stored, plain string) (bool, bool) {
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil, false
	}
	if stored == "" {
		return false, false
	}
	ok := subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1
	return ok, ok
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// HasherFor returns the hasher of a PASSWORD_MODE value.
func HasherFor(mode string) Hasher {
	if mode == config.PasswordLegacy {
		return PlainHasher{}
	}
	return BcryptHasher{}
}
