// Package client talks to the chat server over its JSON API and realtime
// WebSocket feed. A Client satisfies chat.Backend once it holds a token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/chat"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
)

type Config struct {
	BaseURL string
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// RetryInterval is the first pause between retries of an idempotent
	// read; RetryMaxElapsed bounds them all.
	RetryInterval   time.Duration
	RetryMaxElapsed time.Duration
	// BreakerFailures consecutive backend failures open the breaker for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 250 * time.Millisecond
	}
	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

type Client struct {
	base *url.URL
	http *http.Client
	cb   *gobreaker.CircuitBreaker
	conf Config
	log  *zap.Logger

	mu    sync.RWMutex
	token string

	wsMu sync.Mutex
	ws   *websocket.Conn
}

var _ chat.Backend = (*Client)(nil)

func New(conf Config, log *zap.Logger) (*Client, error) {
	conf.setDefaults()
	base, err := url.Parse(strings.TrimRight(conf.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", conf.BaseURL)
	}
	if log == nil {
		log = zap.NewNop()
	}

	st := gobreaker.Settings{
		Name:        "chat-api",
		MaxRequests: 1,
		Timeout:     conf.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerFailures
		},
		// Only an unreachable or failing server counts against the
		// breaker; rejected input does not.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrBackend)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		base: base,
		http: &http.Client{Timeout: conf.Timeout},
		cb:   gobreaker.NewCircuitBreaker(st),
		conf: conf,
		log:  log,
	}, nil
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type apiError struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

// do sends one JSON request. Reads are retried with exponential backoff
// while the failure is a backend failure; writes are attempted once.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}

	attempt := func() error {
		_, err := c.cb.Execute(func() (any, error) {
			return nil, c.roundTrip(ctx, method, path, body, out)
		})
		err = breakerError(err)
		if err != nil && !errors.Is(err, domain.ErrBackend) {
			return backoff.Permanent(err)
		}
		return err
	}

	if method != http.MethodGet {
		err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conf.RetryInterval
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	b.Reset()
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}

// breakerError reports a rejected call of an open breaker as a backend
// failure.
func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrBackend, err)
	}
	return nil
}

// decodeError turns an error response back into the domain error the
// server started from.
func decodeError(resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		if body.Error == domain.ErrSecurityAnswerMismatch.Error() {
			return domain.ErrSecurityAnswerMismatch
		}
		return domain.Invalid(body.Field, body.Error)
	case http.StatusUnauthorized:
		if body.Error == domain.ErrInvalidCredentials.Error() {
			return domain.ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body.Error)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrForbidden, body.Error)
	case http.StatusNotFound:
		if body.Error == domain.ErrAccountNotFound.Error() {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body.Error)
	case http.StatusConflict:
		return domain.ErrDuplicateAccount
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrBackend, body.Error)
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrBackend, resp.Status, body.Error)
}
