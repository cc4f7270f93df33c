package client_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/chat"
	"github.com/saurabhrjk/admin-connect-chat/internal/client"
	"github.com/saurabhrjk/admin-connect-chat/internal/config"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/events"
	"github.com/saurabhrjk/admin-connect-chat/internal/httpserver"
	"github.com/saurabhrjk/admin-connect-chat/internal/security"
	"github.com/saurabhrjk/admin-connect-chat/internal/service"
	"github.com/saurabhrjk/admin-connect-chat/internal/session"
	"github.com/saurabhrjk/admin-connect-chat/internal/store"
	"github.com/saurabhrjk/admin-connect-chat/internal/ws"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	repos, err := store.Open(store.DriverSQLite, filepath.Join(dir, "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	log := zap.NewNop()
	cfg := &config.Config{AppName: "Test", UploadDir: dir, MaxUploadMB: 1, CORSOrigins: []string{"http://localhost:5173"}}
	enc, err := security.NewEncryptor("test-encryption-key", nil)
	require.NoError(t, err)
	tokens := security.NewTokenService("test-secret", time.Hour, 15*time.Minute)
	broker := events.NewBroker()

	auth := service.NewAuthService(repos.Users, tokens, security.NewPasswordHasher(4), session.NewMemoryStore(), log)
	messages := service.NewMessageService(repos.Users, repos.Messages, enc, broker, log)

	srv := httptest.NewServer(httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Auth:     auth,
		Users:    service.NewUserService(repos.Users),
		Messages: messages,
		WS:       ws.MakeHandler(ws.NewHub(broker), auth, messages, cfg.CORSOrigins, log),
		Log:      log,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, baseURL string) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{
		BaseURL:         baseURL,
		Timeout:         5 * time.Second,
		RetryInterval:   5 * time.Millisecond,
		RetryMaxElapsed: 200 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func register(t *testing.T, c *client.Client, name string) *domain.User {
	t.Helper()
	resp, err := c.Register(context.Background(), service.RegisterInput{
		Name:             name,
		Email:            strings.ToLower(name) + "@example.com",
		Password:         "secret123",
		ConfirmPassword:  "secret123",
		SecurityQuestion: "Pet?",
		SecurityAnswer:   "Rex",
	})
	require.NoError(t, err)
	return resp.User
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := client.New(client.Config{BaseURL: "ftp://example.com"}, nil)
	assert.Error(t, err)
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	adminClient := newClient(t, srv.URL)
	admin := register(t, adminClient, "Admin")
	assert.True(t, admin.IsAdmin)
	assert.NotEmpty(t, adminClient.Token())

	bobClient := newClient(t, srv.URL)
	bob := register(t, bobClient, "Bob")
	assert.False(t, bob.IsAdmin)

	_, err := newClient(t, srv.URL).Register(ctx, service.RegisterInput{
		Name: "Again", Email: "BOB@example.com", Password: "secret123",
		SecurityQuestion: "Pet?", SecurityAnswer: "Rex",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateAccount)

	anon := newClient(t, srv.URL)
	_, err = anon.Register(ctx, service.RegisterInput{Name: "X", Email: "x@example.com", Password: "secret123", ConfirmPassword: "other"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "confirm_password", verr.Field)

	_, err = anon.Register(ctx, service.RegisterInput{Name: "X", Email: "x@example.com", Password: "123", SecurityQuestion: "q", SecurityAnswer: "a"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)

	_, err = anon.Login(ctx, "bob@example.com", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = anon.Login(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Empty(t, anon.Token())

	resp, err := anon.Login(ctx, "Bob@Example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, resp.User.ID)

	me, err := anon.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, me.ID)
}

func TestPasswordRecovery(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	register(t, newClient(t, srv.URL), "Admin")

	c := newClient(t, srv.URL)
	q, err := c.SecurityQuestion(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Pet?", q)

	_, err = c.SecurityQuestion(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	assert.ErrorIs(t, c.ResetPassword(ctx, "admin@example.com", "Fido", "newsecret"), domain.ErrSecurityAnswerMismatch)
	assert.ErrorIs(t, c.ResetPassword(ctx, "ghost@example.com", "Rex", "newsecret"), domain.ErrAccountNotFound)
	require.NoError(t, c.ResetPassword(ctx, "admin@example.com", "  REX ", "newsecret"))

	_, err = c.Login(ctx, "admin@example.com", "secret123")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = c.Login(ctx, "admin@example.com", "newsecret")
	assert.NoError(t, err)
}

func TestMessagingOverHTTP(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	adminClient := newClient(t, srv.URL)
	admin := register(t, adminClient, "Admin")
	bobClient := newClient(t, srv.URL)
	register(t, bobClient, "Bob")
	carolClient := newClient(t, srv.URL)
	carol := register(t, carolClient, "Carol")

	users, err := bobClient.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	contacts, err := bobClient.Contacts(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, admin.ID, contacts[0].ID)

	sent, err := bobClient.SendMessage(ctx, chat.Outgoing{RecipientID: admin.ID, Content: " hello admin "})
	require.NoError(t, err)
	assert.Equal(t, "hello admin", sent.Content)
	assert.Equal(t, domain.MessageText, sent.Type)

	_, err = bobClient.SendMessage(ctx, chat.Outgoing{RecipientID: carol.ID, Content: "psst"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = bobClient.SendMessage(ctx, chat.Outgoing{RecipientID: admin.ID, Content: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	threads, err := adminClient.FetchMessages(ctx)
	require.NoError(t, err)
	require.Len(t, threads[sent.SenderID], 1)
	assert.False(t, threads[sent.SenderID][0].IsRead)

	require.NoError(t, adminClient.MarkAsRead(ctx, []string{sent.ID}))
	require.NoError(t, adminClient.MarkAsRead(ctx, []string{sent.ID}))

	threads, err = bobClient.FetchMessages(ctx)
	require.NoError(t, err)
	require.Len(t, threads[admin.ID], 1)
	assert.True(t, threads[admin.ID][0].IsRead)

	carolThreads, err := carolClient.FetchMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, carolThreads)
}

func TestUpload(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv.URL)
	register(t, c, "Admin")

	png := []byte("\x89PNG\r\n\x1a\n0000")
	att, err := c.Upload(context.Background(), "cat.png", "image/png", bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageImage, att.Type)
	assert.True(t, strings.HasPrefix(att.FileURL, "/api/uploads/"))
}

func TestMarkerResume(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session", "marker.json")

	m, err := client.LoadMarker(path)
	require.NoError(t, err)
	assert.Nil(t, m)

	c := newClient(t, srv.URL)
	admin := register(t, c, "Admin")
	require.NoError(t, client.SaveMarker(path, client.Marker{Token: c.Token(), User: admin}))

	m, err = client.LoadMarker(path)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, admin.ID, m.User.ID)

	fresh := newClient(t, srv.URL)
	u, err := fresh.Resume(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, u.ID)

	require.NoError(t, fresh.Logout(ctx))
	assert.Empty(t, fresh.Token())

	_, err = newClient(t, srv.URL).Resume(ctx, m)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, client.ClearMarker(path))
	require.NoError(t, client.ClearMarker(path))
	m, err = client.LoadMarker(path)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSessionsOverRealtimeFeed(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adminClient := newClient(t, srv.URL)
	admin := register(t, adminClient, "Admin")
	bobClient := newClient(t, srv.URL)
	bob := register(t, bobClient, "Bob")

	open := func(c *client.Client, me *domain.User) *chat.Session {
		s := chat.New(me, c)
		stop, err := c.Subscribe(ctx, func(e events.Event) { _ = s.Apply(ctx, e) }, func() { _ = s.Load(ctx) })
		require.NoError(t, err)
		t.Cleanup(func() {
			stop()
			s.Close()
		})
		require.NoError(t, s.Load(ctx))
		return s
	}
	adminSession := open(adminClient, admin)
	bobSession := open(bobClient, bob)

	_, err := adminSession.SendMessage(ctx, "Hi", domain.MessageText, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(bobSession.Messages(admin.ID)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Bob has the admin selected, so the message is read on arrival and
	// the receipt travels back to the admin.
	require.Eventually(t, func() bool {
		msgs := adminSession.Messages(bob.ID)
		return len(msgs) == 1 && msgs[0].IsRead
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, bobSession.SetTyping(ctx, true))
	require.Eventually(t, func() bool {
		for _, c := range adminSession.Contacts() {
			if c.ID == bob.ID {
				return c.IsTyping
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTypingNeedsFeed(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv.URL)
	register(t, c, "Admin")
	assert.ErrorIs(t, c.Typing(context.Background(), "someone", true), domain.ErrBackend)
}

type flakyServer struct {
	hits atomic.Int32
	srv  *httptest.Server
}

func newFlakyServer(t *testing.T) *flakyServer {
	f := &flakyServer{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func TestRetriesReadsButNotWrites(t *testing.T) {
	f := newFlakyServer(t)
	c, err := client.New(client.Config{
		BaseURL:         f.srv.URL,
		RetryInterval:   5 * time.Millisecond,
		RetryMaxElapsed: 300 * time.Millisecond,
		BreakerFailures: 1000,
	}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.ListUsers(ctx)
	assert.ErrorIs(t, err, domain.ErrBackend)
	assert.Greater(t, f.hits.Load(), int32(1))

	f.hits.Store(0)
	_, err = c.SendMessage(ctx, chat.Outgoing{RecipientID: "x", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrBackend)
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestBreakerOpensAfterBackendFailures(t *testing.T) {
	f := newFlakyServer(t)
	c, err := client.New(client.Config{
		BaseURL:         f.srv.URL,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, c.MarkAsRead(ctx, []string{"m1"}), domain.ErrBackend)
	}
	require.Equal(t, int32(2), f.hits.Load())

	err = c.MarkAsRead(ctx, []string{"m1"})
	assert.ErrorIs(t, err, domain.ErrBackend)
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestStopDuringReconnectReturns(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// drop every connection right away so the feed keeps reconnecting
		_ = conn.Close()
	}))
	defer srv.Close()

	c, err := client.New(client.Config{BaseURL: srv.URL, Timeout: time.Second, RetryInterval: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	c.SetToken("token")

	for i := 0; i < 20; i++ {
		stop, err := c.Subscribe(context.Background(), func(events.Event) {}, nil)
		require.NoError(t, err)
		time.Sleep(time.Duration(i%5) * time.Millisecond)

		done := make(chan struct{})
		go func() {
			stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("stop did not return on iteration %d", i)
		}
	}
	assert.Error(t, c.Typing(context.Background(), "anyone", true), "feed must be closed after stop")
}
