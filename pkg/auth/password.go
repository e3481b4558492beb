package auth

import "golang.org/x/crypto/bcrypt"

// PasswordHashCost is the bcrypt work factor. Grounded on la2go's
// password-hashing code (internal/db/db.go's HashPassword), replacing
// its legacy SHA-1+Base64 scheme with bcrypt per spec §4.4's
// cost-parameterized adaptive hash requirement.
const PasswordHashCost = 12

// HashPassword produces a bcrypt hash suitable for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash, in the constant
// time bcrypt.CompareHashAndPassword already provides.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
