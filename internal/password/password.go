// Package password hashes and verifies local account passwords.
//
// Directory-backed accounts are stored with an unusable password: an opaque value
// starting with UnusablePrefix that Verify rejects for every plaintext, so such
// users can only log in through the directory.
package password

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// UnusablePrefix marks an encoded password that can never be verified.
const UnusablePrefix = "!"

const unusableSuffixLength = 40

// ErrEmptyPassword is returned when hashing an empty plaintext.
var ErrEmptyPassword = errors.New("password must not be empty")

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) bool
}

// BcryptHasher is a Hasher backed by bcrypt.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher with the given cost, falling back to
// bcrypt.DefaultCost when cost is out of range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Verify(plain, encoded string) bool {
	if plain == "" || !IsUsable(encoded) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain)) == nil
}

var defaultHasher = NewBcryptHasher(bcrypt.DefaultCost)

// Hash hashes plain with the default bcrypt cost.
func Hash(plain string) (string, error) {
	return defaultHasher.Hash(plain)
}

// Verify reports whether plain matches encoded. It is always false for unusable or
// malformed encodings.
func Verify(plain, encoded string) bool {
	return defaultHasher.Verify(plain, encoded)
}

// Unusable returns a fresh unusable password value.
func Unusable() string {
	buf := make([]byte, base64.RawURLEncoding.DecodedLen(unusableSuffixLength))
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(buf)
	return UnusablePrefix + base64.RawURLEncoding.EncodeToString(buf)
}

// IsUsable reports whether encoded could ever match a plaintext.
func IsUsable(encoded string) bool {
	return encoded != "" && !strings.HasPrefix(encoded, UnusablePrefix)
}
