package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. A token minted for one purpose is rejected for the other.
const (
	PurposeAccess = "access"
	PurposeReset  = "reset"
)

var ErrWrongPurpose = errors.New("token purpose mismatch")

// Claims are the JWT claims issued by TokenService.
type Claims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
	// Stamp binds a reset token to the password hash it was issued for.
	Stamp string `json:"stamp,omitempty"`
}

// TokenService wraps JWT creation and validation.
type TokenService struct {
	secret   []byte
	accessIn time.Duration
	resetIn  time.Duration
	now      func() time.Time
}

func NewTokenService(secret string, accessTTL, resetTTL time.Duration) *TokenService {
	return &TokenService{
		secret:   []byte(secret),
		accessIn: accessTTL,
		resetIn:  resetTTL,
		now:      time.Now,
	}
}

// CreateAccess creates a session token for userID using the default TTL.
func (t *TokenService) CreateAccess(userID string) (string, *Claims, error) {
	return t.create(userID, PurposeAccess, "", t.accessIn)
}

// CreateReset creates a password reset token bound to the user's current
// password hash.
func (t *TokenService) CreateReset(userID, passwordHash string) (string, error) {
	token, _, err := t.create(userID, PurposeReset, PasswordStamp(passwordHash), t.resetIn)
	return token, err
}

func (t *TokenService) create(subject, purpose, stamp string, ttl time.Duration) (string, *Claims, error) {
	now := t.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Purpose: purpose,
		Stamp:   stamp,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseAccess validates a session token and returns its claims.
func (t *TokenService) ParseAccess(tokenStr string) (*Claims, error) {
	return t.parse(tokenStr, PurposeAccess)
}

// ParseReset validates a password reset token and returns its claims.
func (t *TokenService) ParseReset(tokenStr string) (*Claims, error) {
	return t.parse(tokenStr, PurposeReset)
}

func (t *TokenService) parse(tokenStr, purpose string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	return claims, nil
}

// PasswordStamp fingerprints a password hash for reset token binding.
func PasswordStamp(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return hex.EncodeToString(sum[:8])
}
