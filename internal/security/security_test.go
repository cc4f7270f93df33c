package security

import (
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(4)

	hashed, err := h.Hash("secret1")
	require.NoError(t, err)
	assert.NoError(t, h.Verify("secret1", hashed))
	assert.Error(t, h.Verify("secret2", hashed))
}

func TestSecurityAnswerIsCaseInsensitive(t *testing.T) {
	h := NewPasswordHasher(4)

	hashed, err := h.HashAnswer("Fluffy")
	require.NoError(t, err)
	assert.NoError(t, h.VerifyAnswer("fluffy", hashed))
	assert.NoError(t, h.VerifyAnswer("  FLUFFY ", hashed))
	assert.Error(t, h.VerifyAnswer("rex", hashed))
}

func TestAccessToken(t *testing.T) {
	svc := NewTokenService("secret", time.Hour, time.Minute)

	token, claims, err := svc.CreateAccess("user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	parsed, err := svc.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", parsed.Subject)
	assert.Equal(t, claims.ID, parsed.ID)

	_, err = svc.ParseReset(token)
	assert.ErrorIs(t, err, ErrWrongPurpose)

	other := NewTokenService("other", time.Hour, time.Minute)
	_, err = other.ParseAccess(token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	svc := NewTokenService("secret", time.Minute, time.Minute)
	issued := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issued }
	token, _, err := svc.CreateAccess("user-1")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ParseAccess(token)
	assert.Error(t, err)
}

func TestResetTokenStamp(t *testing.T) {
	svc := NewTokenService("secret", time.Hour, time.Minute)

	token, err := svc.CreateReset("user-1", "hash-a")
	require.NoError(t, err)
	claims, err := svc.ParseReset(token)
	require.NoError(t, err)
	assert.Equal(t, PasswordStamp("hash-a"), claims.Stamp)
	assert.NotEqual(t, PasswordStamp("hash-b"), claims.Stamp)

	_, err = svc.ParseAccess(token)
	assert.ErrorIs(t, err, ErrWrongPurpose)
}

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("a secret of any length", nil)
	require.NoError(t, err)

	sealed, err := enc.Encrypt("Hello, admin")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "Hello")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "Hello, admin", plain)

	_, err = enc.Decrypt("garbage")
	assert.ErrorIs(t, err, ErrUndecryptable)

	other, err := NewEncryptor("another secret", nil)
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrUndecryptable)
}

func TestEncryptorReadsLegacyFernet(t *testing.T) {
	var legacy fernet.Key
	require.NoError(t, legacy.Generate())
	tok, err := fernet.EncryptAndSign([]byte("old message"), &legacy)
	require.NoError(t, err)

	enc, err := NewEncryptor("current secret", []string{legacy.Encode()})
	require.NoError(t, err)

	plain, err := enc.Decrypt(string(tok))
	require.NoError(t, err)
	assert.Equal(t, "old message", plain)
}

func TestNewEncryptorRejectsEmptyKey(t *testing.T) {
	_, err := NewEncryptor("", nil)
	assert.Error(t, err)
}
