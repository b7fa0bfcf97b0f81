package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/wanderlustcms/api/internal/errors"
)

const (
	saltSize         = 16 // 128 bits
	keySize          = 32 // 256 bits
	pbkdf2Iterations = 100_000
)

// PasswordHasher derives storable credentials from plaintext passwords
// using PBKDF2-HMAC-SHA256. The stored form is base64(salt || derivedKey);
// the plaintext is never persisted in any recoverable form.
type PasswordHasher struct{}

func NewPasswordHasher() PasswordHasher {
	return PasswordHasher{}
}

// Hash derives a fresh credential for the password. Every call generates
// a new random salt, so hashing the same password twice yields different
// credentials that both verify.
func (PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", apperrors.ValidationError("Password cannot be empty", nil)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)

	combined := make([]byte, 0, saltSize+keySize)
	combined = append(combined, salt...)
	combined = append(combined, key...)

	return base64.StdEncoding.EncodeToString(combined), nil
}

// Verify re-derives the key from the candidate password and the stored
// salt and compares in constant time. A malformed or foreign-format
// credential reads as "does not match", never as an error.
func (PasswordHasher) Verify(password, credential string) bool {
	if password == "" || credential == "" {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(credential)
	if err != nil || len(decoded) != saltSize+keySize {
		return false
	}

	salt := decoded[:saltSize]
	stored := decoded[saltSize:]

	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)

	return subtle.ConstantTimeCompare(stored, derived) == 1
}
