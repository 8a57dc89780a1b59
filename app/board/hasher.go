package board

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher makes and checks one-way digests of passwords
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(hash, secret string) bool
}

// SHA256Hasher makes lowercase hex sha256 digests, the format kept by existing credential records
type SHA256Hasher struct{}

// Hash returns hex sha256 of the secret
func (SHA256Hasher) Hash(secret string) (string, error) {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:]), nil
}

// Verify compares digest of the secret with hash in constant time
func (h SHA256Hasher) Verify(hash, secret string) bool {
	digest, _ := h.Hash(secret)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(strings.TrimSpace(hash))), []byte(digest)) == 1
}

// BcryptHasher makes salted bcrypt digests. Credentials stored earlier as sha256 are still verified.
type BcryptHasher struct {
	Cost int
}

// Hash returns bcrypt digest of the secret
func (b BcryptHasher) Hash(secret string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	res, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(res), nil
}

// Verify checks the secret against a bcrypt or legacy sha256 hash
func (b BcryptHasher) Verify(hash, secret string) bool {
	if !strings.HasPrefix(hash, "$2") {
		return SHA256Hasher{}.Verify(hash, secret)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
