package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/normalize"
	"github.com/saurabhrjk/admin-connect-chat/internal/security"
	"github.com/saurabhrjk/admin-connect-chat/internal/session"
)

const (
	MinPasswordLength       = 6
	MaxSecretBytes          = 72 // longest input bcrypt accepts
	DefaultSecurityQuestion = "What is your favorite color?"
	defaultAvatarURL        = "https://i.pravatar.cc/150?u="
)

// AuthService handles registration, login, logout and password recovery.
type AuthService struct {
	users   domain.UserRepository
	tokens  *security.TokenService
	hash    *security.PasswordHasher
	revoked session.Store
	log     *zap.Logger
	now     func() time.Time
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher, revoked session.Store, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		users:   users,
		tokens:  tokens,
		hash:    hash,
		revoked: revoked,
		log:     log,
		now:     time.Now,
	}
}

type RegisterInput struct {
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	Password         string  `json:"password"`
	ConfirmPassword  string  `json:"confirm_password,omitempty"`
	SecurityQuestion string  `json:"security_question"`
	SecurityAnswer   string  `json:"security_answer"`
	Avatar           *string `json:"avatar,omitempty"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ResetInput struct {
	Email          string `json:"email"`
	SecurityAnswer string `json:"security_answer"`
	NewPassword    string `json:"new_password"`
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *domain.User `json:"user"`
}

func validatePassword(field, password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return domain.Invalid(field, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxSecretBytes {
		return domain.Invalid(field, fmt.Sprintf("password must be at most %d bytes", MaxSecretBytes))
	}
	return nil
}

func (in RegisterInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Invalid("name", "name is required")
	}
	email := normalize.Email(in.Email)
	if email == "" {
		return domain.Invalid("email", "email is required")
	}
	if !strings.Contains(email, "@") {
		return domain.Invalid("email", "email is not valid")
	}
	if err := validatePassword("password", in.Password); err != nil {
		return err
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return domain.Invalid("confirm_password", "passwords do not match")
	}
	if strings.TrimSpace(in.SecurityQuestion) == "" {
		return domain.Invalid("security_question", "security question is required")
	}
	if strings.TrimSpace(in.SecurityAnswer) == "" {
		return domain.Invalid("security_answer", "security answer is required")
	}
	if len(normalize.Answer(in.SecurityAnswer)) > MaxSecretBytes {
		return domain.Invalid("security_answer", fmt.Sprintf("security answer must be at most %d bytes", MaxSecretBytes))
	}
	return nil
}

// Register creates an account and logs it in. The first account ever
// stored becomes the admin.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*TokenResponse, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	email := normalize.Email(in.Email)

	if existing, err := s.users.GetByEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	} else if existing != nil {
		return nil, domain.ErrDuplicateAccount
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	answer, err := s.hash.HashAnswer(in.SecurityAnswer)
	if err != nil {
		return nil, fmt.Errorf("hash security answer: %w", err)
	}

	question := strings.TrimSpace(in.SecurityQuestion)
	user := &domain.User{
		ID:                 uuid.NewString(),
		Name:               strings.TrimSpace(in.Name),
		Email:              email,
		HashedPassword:     hashed,
		SecurityQuestion:   &question,
		SecurityAnswerHash: answer,
		CreatedAt:          s.now().UTC(),
	}
	if in.Avatar != nil && strings.TrimSpace(*in.Avatar) != "" {
		avatar := strings.TrimSpace(*in.Avatar)
		user.Avatar = &avatar
	} else {
		avatar := defaultAvatarURL + user.ID
		user.Avatar = &avatar
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicateAccount) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", zap.String("user_id", user.ID), zap.Bool("is_admin", user.IsAdmin))

	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	user, err := s.users.GetByEmail(ctx, normalize.Email(in.Email))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInvalidCredentials
	}
	if err := s.hash.Verify(in.Password, user.HashedPassword); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *AuthService) issue(user *domain.User) (*TokenResponse, error) {
	token, claims, err := s.tokens.CreateAccess(user.ID)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   claims.ExpiresAt.Time,
		User:        user,
	}, nil
}

// Logout revokes the token described by claims until it would have expired.
func (s *AuthService) Logout(ctx context.Context, claims *security.Claims) error {
	if claims == nil || claims.ID == "" {
		return domain.ErrUnauthorized
	}
	until := s.now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if err := s.revoked.Revoke(ctx, claims.ID, until); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Authenticate resolves an access token to its user. Expired, malformed and
// revoked tokens, and tokens of deleted users, yield ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, *security.Claims, error) {
	claims, err := s.tokens.ParseAccess(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, nil, fmt.Errorf("%w: token revoked", domain.ErrUnauthorized)
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, nil, fmt.Errorf("%w: user not found", domain.ErrUnauthorized)
	}
	return user, claims, nil
}

// SecurityQuestion returns the recovery question of the account for email.
func (s *AuthService) SecurityQuestion(ctx context.Context, email string) (string, error) {
	user, err := s.lookup(ctx, email)
	if err != nil {
		return "", err
	}
	if user.SecurityQuestion == nil || strings.TrimSpace(*user.SecurityQuestion) == "" {
		return DefaultSecurityQuestion, nil
	}
	return *user.SecurityQuestion, nil
}

// ResetPassword verifies the security answer and replaces the password in
// one step.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetInput) error {
	if err := validatePassword("new_password", in.NewPassword); err != nil {
		return err
	}
	token, err := s.IssueResetToken(ctx, in.Email, in.SecurityAnswer)
	if err != nil {
		return err
	}
	return s.ConfirmReset(ctx, token, in.NewPassword)
}

// IssueResetToken verifies the security answer and returns a short-lived
// token that authorizes one password change.
func (s *AuthService) IssueResetToken(ctx context.Context, email, answer string) (string, error) {
	user, err := s.lookup(ctx, email)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", domain.Invalid("security_answer", "security answer is required")
	}
	if err := s.hash.VerifyAnswer(answer, user.SecurityAnswerHash); err != nil {
		return "", domain.ErrSecurityAnswerMismatch
	}
	token, err := s.tokens.CreateReset(user.ID, user.HashedPassword)
	if err != nil {
		return "", fmt.Errorf("create reset token: %w", err)
	}
	return token, nil
}

// ConfirmReset applies newPassword for the user named by token. The token
// stops working once the password changes.
func (s *AuthService) ConfirmReset(ctx context.Context, token, newPassword string) error {
	if err := validatePassword("new_password", newPassword); err != nil {
		return err
	}
	claims, err := s.tokens.ParseReset(token)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return domain.ErrAccountNotFound
	}
	if claims.Stamp != security.PasswordStamp(user.HashedPassword) {
		return fmt.Errorf("%w: reset token already used", domain.ErrUnauthorized)
	}

	hashed, err := s.hash.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.log.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

func (s *AuthService) lookup(ctx context.Context, email string) (*domain.User, error) {
	email = normalize.Email(email)
	if email == "" {
		return nil, domain.Invalid("email", "email is required")
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrAccountNotFound
	}
	return user, nil
}
