package security

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/saurabhrjk/admin-connect-chat/internal/normalize"
)

// PasswordHasher wraps bcrypt hashing and verification.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *PasswordHasher) Verify(plain, hashed string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// HashAnswer hashes a security answer after normalizing it, so that the
// later comparison ignores case and surrounding whitespace.
func (h *PasswordHasher) HashAnswer(answer string) (string, error) {
	return h.Hash(normalize.Answer(answer))
}

// VerifyAnswer checks a security answer against its stored hash.
func (h *PasswordHasher) VerifyAnswer(answer, hashed string) error {
	return h.Verify(normalize.Answer(answer), hashed)
}
