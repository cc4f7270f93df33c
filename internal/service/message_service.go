package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/conversation"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/events"
	"github.com/saurabhrjk/admin-connect-chat/internal/security"
)

// MessageService stores and routes direct messages between the admin and
// standard users.
type MessageService struct {
	users     domain.UserRepository
	messages  domain.MessageRepository
	encryptor *security.Encryptor
	pub       events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewMessageService(
	users domain.UserRepository,
	messages domain.MessageRepository,
	encryptor *security.Encryptor,
	pub events.Publisher,
	log *zap.Logger,
) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		users:     users,
		messages:  messages,
		encryptor: encryptor,
		pub:       pub,
		log:       log,
		now:       time.Now,
	}
}

type SendInput struct {
	RecipientID string             `json:"recipient_id"`
	Content     string             `json:"content"`
	Type        domain.MessageType `json:"type"`
	FileURL     *string            `json:"file_url,omitempty"`
}

func (in *SendInput) normalize() error {
	if in.RecipientID == "" {
		return domain.Invalid("recipient_id", "no contact selected")
	}
	if in.Type == "" {
		in.Type = domain.MessageText
	}
	if !in.Type.Valid() {
		return domain.Invalid("type", fmt.Sprintf("unknown message type %q", in.Type))
	}
	if in.FileURL != nil && strings.TrimSpace(*in.FileURL) == "" {
		in.FileURL = nil
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" && in.FileURL == nil {
		return domain.Invalid("content", "message is empty")
	}
	if in.Content == "" && in.Type != domain.MessageText {
		in.Content = domain.AttachmentPlaceholder
	}
	return nil
}

// adminID returns the id of the admin as seen by current.
func (s *MessageService) adminID(ctx context.Context, current *domain.User) (string, error) {
	if current.IsAdmin {
		return current.ID, nil
	}
	admin, err := s.users.GetAdmin(ctx)
	if err != nil {
		return "", fmt.Errorf("get admin: %w", err)
	}
	if admin == nil {
		return "", nil
	}
	return admin.ID, nil
}

// FetchMessages returns the conversations current may see, keyed by peer id
// and ordered oldest first.
func (s *MessageService) FetchMessages(ctx context.Context, current *domain.User) (map[string][]domain.Message, error) {
	adminID, err := s.adminID(ctx, current)
	if err != nil {
		return nil, err
	}
	rows, err := s.messages.ListForUser(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := make([]domain.Message, 0, len(rows))
	for _, m := range rows {
		msgs = append(msgs, s.open(*m))
	}
	return conversation.Group(current, adminID, msgs), nil
}

// open decrypts stored content. Payloads that cannot be opened are
// returned with empty content.
func (s *MessageService) open(m domain.Message) domain.Message {
	plain, err := s.encryptor.Decrypt(m.Content)
	if err != nil {
		s.log.Warn("cannot decrypt message", zap.String("message_id", m.ID), zap.Error(err))
		plain = ""
	}
	m.Content = plain
	return m
}

// SendMessage validates and stores a message from sender and publishes it
// to both participants.
func (s *MessageService) SendMessage(ctx context.Context, sender *domain.User, in SendInput) (*domain.Message, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	recipient, err := s.users.GetByID(ctx, in.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	if recipient == nil {
		return nil, domain.ErrAccountNotFound
	}
	if !conversation.CanMessage(sender, recipient) {
		return nil, domain.ErrForbidden
	}

	sealed, err := s.encryptor.Encrypt(in.Content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}
	msg := domain.Message{
		ID:          xid.New().String(),
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Content:     sealed,
		Timestamp:   s.now().UTC(),
		IsRead:      false,
		Type:        in.Type,
		FileURL:     in.FileURL,
	}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	msg.Content = in.Content

	s.publish(ctx, events.MessageCreatedEvent(msg))
	return &msg, nil
}

// CanReadAttachment reports whether user takes part in a conversation
// that references fileURL.
func (s *MessageService) CanReadAttachment(ctx context.Context, user *domain.User, fileURL string) (bool, error) {
	m, err := s.messages.FindByFileURL(ctx, fileURL, user.ID)
	if err != nil {
		return false, fmt.Errorf("find attachment: %w", err)
	}
	return m != nil && m.Involves(user.ID), nil
}

// MarkAsRead flips the unread messages in ids addressed to reader. Messages
// that are already read or addressed to someone else are left alone, and
// only the flipped messages are returned and published.
func (s *MessageService) MarkAsRead(ctx context.Context, reader *domain.User, ids []string) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	changed, err := s.messages.MarkRead(ctx, reader.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	out := make([]domain.Message, 0, len(changed))
	for _, id := range changed {
		m, err := s.messages.GetByID(ctx, id)
		if err != nil {
			return out, fmt.Errorf("get message: %w", err)
		}
		if m == nil {
			continue
		}
		opened := s.open(*m)
		out = append(out, opened)
		s.publish(ctx, events.MessageUpdatedEvent(opened))
	}
	return out, nil
}

// ListContacts returns the contacts of current with last-message previews
// and unread counts.
func (s *MessageService) ListContacts(ctx context.Context, current *domain.User) ([]domain.Contact, error) {
	all, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	threads, err := s.FetchMessages(ctx, current)
	if err != nil {
		return nil, err
	}
	return conversation.Summarize(conversation.ResolveContacts(current, all), threads), nil
}

// Typing relays a typing signal from one participant to the other.
func (s *MessageService) Typing(ctx context.Context, from *domain.User, toID string, isTyping bool) error {
	if toID == "" {
		return domain.Invalid("recipient_id", "no contact selected")
	}
	to, err := s.users.GetByID(ctx, toID)
	if err != nil {
		return fmt.Errorf("get recipient: %w", err)
	}
	if to == nil {
		return domain.ErrAccountNotFound
	}
	if !conversation.CanMessage(from, to) {
		return domain.ErrForbidden
	}
	s.publish(ctx, events.TypingEvent(from.ID, to.ID, isTyping))
	return nil
}

// publish never fails the caller: the message is already stored and
// clients recover missed events on reload.
func (s *MessageService) publish(ctx context.Context, e events.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("publish event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
