package password

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// maxLegacyBcryptCost bounds the work a stored bcrypt hash can demand.
const maxLegacyBcryptCost = 15

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// verifyBcrypt checks a legacy bcrypt hash.
func verifyBcrypt(encoded, password string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil || cost > maxLegacyBcryptCost {
		return false, ErrInvalidHash
	}
	switch err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)); err {
	case nil:
		return true, nil
	case bcrypt.ErrMismatchedHashAndPassword:
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}
