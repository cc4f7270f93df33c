package httpserver_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/config"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/events"
	"github.com/saurabhrjk/admin-connect-chat/internal/httpserver"
	"github.com/saurabhrjk/admin-connect-chat/internal/security"
	"github.com/saurabhrjk/admin-connect-chat/internal/service"
	"github.com/saurabhrjk/admin-connect-chat/internal/session"
	"github.com/saurabhrjk/admin-connect-chat/internal/store"
)

func newTestServer(t *testing.T, limiter *httpserver.LimiterStore) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	repos, err := store.Open(store.DriverSQLite, filepath.Join(dir, "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	cfg := &config.Config{AppName: "Test", UploadDir: dir, MaxUploadMB: 1, CORSOrigins: []string{"http://localhost:5173"}}
	enc, err := security.NewEncryptor("test-encryption-key", nil)
	require.NoError(t, err)
	tokens := security.NewTokenService("test-secret", time.Hour, 15*time.Minute)
	log := zap.NewNop()

	srv := httptest.NewServer(httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Auth:     service.NewAuthService(repos.Users, tokens, security.NewPasswordHasher(4), session.NewMemoryStore(), log),
		Users:    service.NewUserService(repos.Users),
		Messages: service.NewMessageService(repos.Users, repos.Messages, enc, events.NewBroker(), log),
		Limiter:  limiter,
		Log:      log,
	}))
	t.Cleanup(srv.Close)
	return srv
}

type apiClient struct {
	t     *testing.T
	base  string
	token string
}

func (c *apiClient) do(method, path string, body any, out any) int {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	} else if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	User        domain.User `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

func register(t *testing.T, base, name, email string) *apiClient {
	t.Helper()
	c := &apiClient{t: t, base: base}
	var resp tokenResponse
	status := c.do(http.MethodPost, "/api/auth/register", service.RegisterInput{
		Name:             name,
		Email:            email,
		Password:         "secret1",
		SecurityQuestion: "Pet?",
		SecurityAnswer:   "otter",
	}, &resp)
	require.Equal(t, http.StatusCreated, status)
	c.token = resp.AccessToken
	return c
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMessagingFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := register(t, srv.URL, "Admin", "admin@example.com")
	bob := register(t, srv.URL, "Bob", "bob@example.com")
	carol := register(t, srv.URL, "Carol", "carol@example.com")

	var me domain.User
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/auth/me", nil, &me))
	assert.True(t, me.IsAdmin)

	var bobContacts []domain.Contact
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/api/contacts", nil, &bobContacts))
	require.Len(t, bobContacts, 1)
	assert.Equal(t, me.ID, bobContacts[0].ID)

	var sent domain.Message
	require.Equal(t, http.StatusCreated, bob.do(http.MethodPost, "/api/messages", service.SendInput{RecipientID: me.ID, Content: "hello admin"}, &sent))
	assert.Equal(t, "hello admin", sent.Content)

	var bobAccount domain.User
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/api/auth/me", nil, &bobAccount))
	var carolAccount domain.User
	require.Equal(t, http.StatusOK, carol.do(http.MethodGet, "/api/auth/me", nil, &carolAccount))

	var denied errorResponse
	assert.Equal(t, http.StatusForbidden, bob.do(http.MethodPost, "/api/messages", service.SendInput{RecipientID: carolAccount.ID, Content: "hi"}, &denied))

	var empty errorResponse
	assert.Equal(t, http.StatusBadRequest, bob.do(http.MethodPost, "/api/messages", service.SendInput{RecipientID: me.ID, Content: "  "}, &empty))
	assert.Equal(t, "content", empty.Field)

	var adminContacts []domain.Contact
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/contacts", nil, &adminContacts))
	require.Len(t, adminContacts, 2)
	assert.Equal(t, 1, adminContacts[0].UnreadCount)

	var threads map[string][]domain.Message
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/messages", nil, &threads))
	require.Len(t, threads[bobAccount.ID], 1)

	var read struct {
		Updated []domain.Message `json:"updated"`
	}
	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/api/messages/read", map[string][]string{"ids": {sent.ID}}, &read))
	require.Len(t, read.Updated, 1)
	assert.True(t, read.Updated[0].IsRead)

	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/api/messages/read", map[string][]string{"ids": {sent.ID}}, &read))
	assert.Empty(t, read.Updated)

	var carolThreads map[string][]domain.Message
	require.Equal(t, http.StatusOK, carol.do(http.MethodGet, "/api/messages", nil, &carolThreads))
	assert.Empty(t, carolThreads)
}

func TestAuthErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := register(t, srv.URL, "Admin", "admin@example.com")
	anon := &apiClient{t: t, base: srv.URL}

	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/contacts", nil, nil))

	var dup errorResponse
	assert.Equal(t, http.StatusConflict, anon.do(http.MethodPost, "/api/auth/register", service.RegisterInput{
		Name: "Again", Email: "ADMIN@example.com", Password: "secret1", SecurityQuestion: "q", SecurityAnswer: "a",
	}, &dup))
	assert.Equal(t, "email", dup.Field)

	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodPost, "/api/auth/login", service.LoginInput{Email: "admin@example.com", Password: "wrong"}, nil))

	var q map[string]string
	require.Equal(t, http.StatusOK, anon.do(http.MethodPost, "/api/auth/password/question", map[string]string{"email": "admin@example.com"}, &q))
	assert.Equal(t, "Pet?", q["security_question"])
	assert.Equal(t, http.StatusNotFound, anon.do(http.MethodPost, "/api/auth/password/question", map[string]string{"email": "ghost@example.com"}, nil))

	assert.Equal(t, http.StatusNoContent, admin.do(http.MethodPost, "/api/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, admin.do(http.MethodGet, "/api/auth/me", nil, nil))
}

func TestPasswordResetEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	register(t, srv.URL, "Admin", "admin@example.com")
	anon := &apiClient{t: t, base: srv.URL}

	var mismatch errorResponse
	assert.Equal(t, http.StatusBadRequest, anon.do(http.MethodPost, "/api/auth/password/reset", service.ResetInput{
		Email: "admin@example.com", SecurityAnswer: "badger", NewPassword: "newpass1",
	}, &mismatch))
	assert.Equal(t, "security_answer", mismatch.Field)

	var issued map[string]string
	require.Equal(t, http.StatusOK, anon.do(http.MethodPost, "/api/auth/password/reset-token", map[string]string{
		"email": "admin@example.com", "security_answer": "Otter",
	}, &issued))
	require.NotEmpty(t, issued["reset_token"])

	body := map[string]string{"token": issued["reset_token"], "new_password": "newpass1"}
	assert.Equal(t, http.StatusNoContent, anon.do(http.MethodPost, "/api/auth/password/confirm", body, nil))
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodPost, "/api/auth/password/confirm", body, nil))
	assert.Equal(t, http.StatusOK, anon.do(http.MethodPost, "/api/auth/login", service.LoginInput{Email: "admin@example.com", Password: "newpass1"}, nil))
}

func TestAuthRateLimit(t *testing.T) {
	limiter := httpserver.NewLimiterStore(1, 2, 0)
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, limiter)
	anon := &apiClient{t: t, base: srv.URL}

	login := service.LoginInput{Email: "nobody@example.com", Password: "whatever"}
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodPost, "/api/auth/login", login, nil))
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodPost, "/api/auth/login", login, nil))
	assert.Equal(t, http.StatusTooManyRequests, anon.do(http.MethodPost, "/api/auth/login", login, nil))

	// Routes outside /api/auth are not limited.
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/contacts", nil, nil))
}

func TestUploadClassifiesByMIME(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := register(t, srv.URL, "Admin", "admin@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="clip.mp4"`)
	h.Set("Content-Type", "video/mp4")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("not really a video"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/uploads", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var up httpserver.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	assert.Equal(t, domain.MessageVideo, up.Type)
	assert.Equal(t, ".mp4", filepath.Ext(up.Filename))

	var got bytes.Buffer
	get, err := http.NewRequest(http.MethodGet, srv.URL+up.FileURL, nil)
	require.NoError(t, err)
	get.Header.Set("Authorization", "Bearer "+admin.token)
	getResp, err := http.DefaultClient.Do(get)
	require.NoError(t, err)
	defer getResp.Body.Close()
	_, err = io.Copy(&got, getResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "not really a video", got.String())
}

func upload(t *testing.T, c *apiClient, filename, contentType, body string) httpserver.UploadResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/uploads", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var up httpserver.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	return up
}

func download(t *testing.T, c *apiClient, fileURL string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.base+fileURL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestAttachmentReadableByParticipantsOnly(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := register(t, srv.URL, "Admin", "admin@example.com")
	bob := register(t, srv.URL, "Bob", "bob@example.com")
	carol := register(t, srv.URL, "Carol", "carol@example.com")

	var bobUser domain.User
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/api/auth/me", nil, &bobUser))

	up := upload(t, admin, "secret.txt", "text/plain", "admin->bob private attachment")

	// Before any message references it, only the uploader can read it.
	resp, body := download(t, admin, up.FileURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin->bob private attachment", body)
	assert.Equal(t, "attachment", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, _ = download(t, bob, up.FileURL)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	fileURL := up.FileURL
	require.Equal(t, http.StatusCreated, admin.do(http.MethodPost, "/api/messages", service.SendInput{
		RecipientID: bobUser.ID,
		Type:        domain.MessageFile,
		FileURL:     &fileURL,
	}, nil))

	resp, body = download(t, bob, up.FileURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin->bob private attachment", body)

	resp, body = download(t, carol, up.FileURL)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotContains(t, body, "private attachment")
}

func TestUploadNamesAreRandom(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := register(t, srv.URL, "Admin", "admin@example.com")

	var me domain.User
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/auth/me", nil, &me))

	up := upload(t, admin, "a.txt", "text/plain", "a")
	name := strings.TrimSuffix(up.Filename, ".txt")
	require.True(t, strings.HasPrefix(name, me.ID+"_"))

	id, err := uuid.Parse(strings.TrimPrefix(name, me.ID+"_"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())
}
