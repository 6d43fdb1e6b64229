package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost matches the work factor of hashes created by earlier deployments.
const passwordCost = 10

// maxPasswordBytes is the bcrypt input limit; longer secrets are rejected
// rather than silently truncated.
const maxPasswordBytes = 72

// HashPassword returns the bcrypt hash stored in users.password_hash.
// Empty and over-long passwords are ErrInvalidInput.
func HashPassword(password string) (string, error) {
	switch {
	case password == "":
		return "", invalidInput("password is required")
	case len(password) > maxPasswordBytes:
		return "", invalidInput("password must be at most 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a stored hash. A mismatch is
// ErrInvalidCredentials; a corrupt hash is returned as-is.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return &Error{Kind: ErrInvalidCredentials, Message: "Invalid password"}
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return &Error{Kind: ErrInvalidCredentials, Message: "Invalid password"}
	}
	return err
}
