package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/service"
)

// Register creates an account and keeps its access token.
func (c *Client) Register(ctx context.Context, in service.RegisterInput) (*service.TokenResponse, error) {
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return nil, domain.Invalid("confirm_password", "passwords do not match")
	}
	var resp service.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", in, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.AccessToken)
	return &resp, nil
}

// Login signs in and keeps the access token.
func (c *Client) Login(ctx context.Context, email, password string) (*service.TokenResponse, error) {
	var resp service.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", service.LoginInput{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.AccessToken)
	return &resp, nil
}

// Logout revokes the token on the server and forgets it locally, even when
// the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	if c.Token() == "" {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetToken("")
	c.closeFeed()
	if errors.Is(err, domain.ErrUnauthorized) {
		return nil
	}
	return err
}

// Me returns the user of the current token.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Resume re-validates a cached session marker against the server. An
// expired or revoked token is dropped.
func (c *Client) Resume(ctx context.Context, m *Marker) (*domain.User, error) {
	if m == nil || m.Token == "" {
		return nil, domain.ErrUnauthorized
	}
	c.SetToken(m.Token)
	u, err := c.Me(ctx)
	if err != nil {
		c.SetToken("")
		return nil, err
	}
	return u, nil
}

func (c *Client) SecurityQuestion(ctx context.Context, email string) (string, error) {
	var resp struct {
		SecurityQuestion string `json:"security_question"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/password/question", map[string]string{"email": email}, &resp); err != nil {
		return "", err
	}
	return resp.SecurityQuestion, nil
}

// ResetPassword replaces the password after the server has verified the
// security answer.
func (c *Client) ResetPassword(ctx context.Context, email, answer, newPassword string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/password/reset", service.ResetInput{
		Email:          email,
		SecurityAnswer: answer,
		NewPassword:    newPassword,
	}, nil)
}
