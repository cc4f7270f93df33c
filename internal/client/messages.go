package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"

	"github.com/saurabhrjk/admin-connect-chat/internal/chat"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
)

func (c *Client) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) Contacts(ctx context.Context) ([]domain.Contact, error) {
	var contacts []domain.Contact
	if err := c.do(ctx, http.MethodGet, "/api/contacts", nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *Client) FetchMessages(ctx context.Context) (map[string][]domain.Message, error) {
	threads := make(map[string][]domain.Message)
	if err := c.do(ctx, http.MethodGet, "/api/messages", nil, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

func (c *Client) SendMessage(ctx context.Context, out chat.Outgoing) (*domain.Message, error) {
	var msg domain.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", out, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/messages/read", map[string][]string{"ids": ids}, nil)
}

// Attachment is a file stored by the server, ready to be referenced by a
// message.
type Attachment struct {
	FileURL  string             `json:"file_url"`
	Type     domain.MessageType `json:"type"`
	Filename string             `json:"filename"`
}

// Upload stores an attachment. mime may be empty, in which case the server
// sniffs the content.
func (c *Client) Upload(ctx context.Context, filename, mime string, r io.Reader) (*Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	if mime != "" {
		h.Set("Content-Type", mime)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var att Attachment
	_, err = c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/api/uploads", bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return nil, c.send(req, &att)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return &att, nil
}
