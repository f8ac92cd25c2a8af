package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// PasswordFunc names the hashing scheme a dbTable's password column was
// written with, so body and header credential checks can verify it.
type PasswordFunc string

const (
	PasswordBcrypt PasswordFunc = "bcrypt"
	PasswordSHA256 PasswordFunc = "sha256"
)

// VerifyPassword compares a supplied plaintext password against a stored
// hash using the declared scheme.
func VerifyPassword(fn PasswordFunc, stored, supplied string) bool {
	switch fn {
	case PasswordSHA256:
		sum := sha256.Sum256([]byte(supplied))
		return hex.EncodeToString(sum[:]) == stored
	default:
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
}

// CredentialLookup resolves a username against a route's backing table.
// The gateway wiring layer supplies an implementation backed by the DB
// facade; the auth package itself has no database dependency.
type CredentialLookup interface {
	Lookup(ctx context.Context, table, username string) (passwordHash string, acl []string, err error)
}
