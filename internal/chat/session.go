// Package chat holds the client-side state of one signed-in user: the
// derived contact list, the conversations, the selected contact and the
// typing indicators. It reconciles the results of its own requests with the
// realtime change feed.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/conversation"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/events"
)

// TypingTimeout is how long a typing indicator stays on without a refresh.
const TypingTimeout = 3 * time.Second

// ErrClosed is returned by Load after Close.
var ErrClosed = errors.New("chat session closed")

// Outgoing is a message about to be sent.
type Outgoing struct {
	RecipientID string             `json:"recipient_id"`
	Content     string             `json:"content"`
	Type        domain.MessageType `json:"type"`
	FileURL     *string            `json:"file_url,omitempty"`
}

// Backend is the remote side of a session, already bound to the signed-in
// user.
type Backend interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	// FetchMessages returns the user's conversations keyed by peer id.
	FetchMessages(ctx context.Context) (map[string][]domain.Message, error)
	SendMessage(ctx context.Context, out Outgoing) (*domain.Message, error)
	MarkAsRead(ctx context.Context, ids []string) error
	Typing(ctx context.Context, recipientID string, isTyping bool) error
}

// Session is safe for concurrent use. Backend calls are made without
// holding the state lock; their results are dropped once the session is
// closed.
type Session struct {
	me       *domain.User
	backend  Backend
	clock    Clock
	log      *zap.Logger
	onChange func()

	mu       sync.Mutex
	contacts []domain.Contact
	threads  map[string][]domain.Message
	peerOf   map[string]string // message id -> contact id
	selected string
	typing   map[string]*typingTimer
	closed   bool
}

type typingTimer struct {
	gen   uint64
	timer Timer
}

func (t *typingTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

type Option func(*Session)

func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithOnChange registers fn to run after every state change. It is called
// without the session lock held.
func WithOnChange(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

func New(me *domain.User, backend Backend, opts ...Option) *Session {
	s := &Session{
		me:      me,
		backend: backend,
		clock:   realClock{},
		log:     zap.NewNop(),
		threads: make(map[string][]domain.Message),
		peerOf:  make(map[string]string),
		typing:  make(map[string]*typingTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Me() *domain.User { return s.me }

// Load derives the contacts from the user directory and fetches the
// conversations. Messages already known locally are kept. When nothing is
// selected yet the first contact is selected.
func (s *Session) Load(ctx context.Context) error {
	users, err := s.backend.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	fetched, err := s.backend.FetchMessages(ctx)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	contacts := conversation.ResolveContacts(s.me, users)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.threads
	typingOn := make(map[string]bool, len(s.contacts))
	for _, c := range s.contacts {
		typingOn[c.ID] = c.IsTyping
	}

	s.contacts = contacts
	s.threads = make(map[string][]domain.Message, len(contacts))
	s.peerOf = make(map[string]string)
	for i := range s.contacts {
		id := s.contacts[i].ID
		s.contacts[i].IsTyping = typingOn[id]
		for _, m := range fetched[id] {
			s.insert(id, m)
		}
		for _, m := range old[id] {
			s.insert(id, m)
		}
	}
	for id, t := range s.typing {
		if s.indexOf(id) < 0 {
			t.stop()
			delete(s.typing, id)
		}
	}
	if s.indexOf(s.selected) < 0 {
		s.selected = ""
	}
	for _, c := range s.contacts {
		s.refresh(c.ID)
	}
	first := ""
	if s.selected == "" && len(s.contacts) > 0 {
		first = s.contacts[0].ID
	}
	s.mu.Unlock()

	s.changed()
	if first != "" {
		return s.SelectContact(ctx, first)
	}
	return nil
}

// SelectContact makes id the active conversation, zeroes its unread count
// and marks the contact's unread messages as read. Unknown ids are ignored.
// When the backend rejects the read receipts the selection is unchanged.
func (s *Session) SelectContact(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed || s.indexOf(id) < 0 {
		s.mu.Unlock()
		return nil
	}
	unread := unreadFrom(s.threads[id], id)
	s.mu.Unlock()

	if len(unread) > 0 {
		if err := s.backend.MarkAsRead(ctx, unread); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}

	s.mu.Lock()
	if s.closed || s.indexOf(id) < 0 {
		s.mu.Unlock()
		return nil
	}
	s.selected = id
	for _, mid := range unread {
		if peer, ok := s.peerOf[mid]; ok {
			s.setRead(peer, mid)
		}
	}
	s.refresh(id)
	s.mu.Unlock()

	s.changed()
	return nil
}

// SendMessage sends content to the selected contact. Blank content without
// an attachment, or no selection, is rejected before any request is made.
func (s *Session) SendMessage(ctx context.Context, content string, t domain.MessageType, fileURL *string) (*domain.Message, error) {
	s.mu.Lock()
	to := s.selected
	s.mu.Unlock()

	if to == "" {
		return nil, domain.Invalid("recipient_id", "no contact selected")
	}
	if t == "" {
		t = domain.MessageText
	}
	if fileURL != nil && strings.TrimSpace(*fileURL) == "" {
		fileURL = nil
	}
	if strings.TrimSpace(content) == "" && fileURL == nil {
		return nil, domain.Invalid("content", "message is empty")
	}

	msg, err := s.backend.SendMessage(ctx, Outgoing{RecipientID: to, Content: content, Type: t, FileURL: fileURL})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return msg, nil
	}
	peer := conversation.PeerOf(s.me.ID, *msg)
	if s.indexOf(peer) >= 0 {
		s.insert(peer, *msg)
		s.refresh(peer)
	}
	s.mu.Unlock()

	s.changed()
	return msg, nil
}

// MarkAsRead marks exactly the given messages as read. Already read ids are
// harmless.
func (s *Session) MarkAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.backend.MarkAsRead(ctx, ids); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	touched := make(map[string]struct{})
	for _, id := range ids {
		if peer, ok := s.peerOf[id]; ok && s.setRead(peer, id) {
			touched[peer] = struct{}{}
		}
	}
	for peer := range touched {
		s.refresh(peer)
	}
	s.mu.Unlock()

	if len(touched) > 0 {
		s.changed()
	}
	return nil
}

// SetTyping flags the selected contact's conversation as active and tells
// the contact. A true flag clears itself after TypingTimeout unless
// SetTyping is called again first.
func (s *Session) SetTyping(ctx context.Context, isTyping bool) error {
	s.mu.Lock()
	to := s.selected
	if s.closed || to == "" {
		s.mu.Unlock()
		return nil
	}
	s.setTyping(to, isTyping)
	s.mu.Unlock()

	s.changed()
	if err := s.backend.Typing(ctx, to, isTyping); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	return nil
}

// Apply reconciles one realtime event into the session. Duplicate
// deliveries and events for conversations outside the contact list are
// ignored. A new message from the selected contact is marked read.
func (s *Session) Apply(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.MessageCreated, events.MessageUpdated:
		if e.Message == nil {
			return nil
		}
		m := *e.Message

		s.mu.Lock()
		peer := conversation.PeerOf(s.me.ID, m)
		if s.closed || s.indexOf(peer) < 0 {
			s.mu.Unlock()
			if peer != "" {
				s.log.Debug("chat: event for unknown contact", zap.String("peer_id", peer), zap.String("message_id", m.ID))
			}
			return nil
		}
		s.insert(peer, m)
		var markRead []string
		if m.SenderID == peer {
			if e.Type == events.MessageCreated {
				s.setTyping(peer, false)
			}
			if peer == s.selected && !s.isRead(peer, m.ID) {
				markRead = append(markRead, m.ID)
			}
		}
		s.refresh(peer)
		s.mu.Unlock()

		s.changed()
		return s.MarkAsRead(ctx, markRead)

	case events.Typing:
		if e.ToID != s.me.ID {
			return nil
		}
		s.mu.Lock()
		if s.closed || s.indexOf(e.FromID) < 0 {
			s.mu.Unlock()
			return nil
		}
		s.setTyping(e.FromID, e.IsTyping)
		s.mu.Unlock()

		s.changed()
	}
	return nil
}

// Close stops the typing timers. Results of requests still in flight are
// discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.typing {
		t.stop()
		delete(s.typing, id)
	}
}

// Contacts returns a copy of the contact list.
func (s *Session) Contacts() []domain.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Contact(nil), s.contacts...)
}

// Selected returns the selected contact.
func (s *Session) Selected() (domain.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(s.selected); i >= 0 {
		return s.contacts[i], true
	}
	return domain.Contact{}, false
}

// Messages returns a copy of the conversation with contactID, oldest first.
func (s *Session) Messages(contactID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.threads[contactID]...)
}

// Visible returns the conversation on screen: the one with the selected
// contact, or nothing.
func (s *Session) Visible() map[string][]domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return map[string][]domain.Message{}
	}
	return map[string][]domain.Message{
		s.selected: append([]domain.Message(nil), s.threads[s.selected]...),
	}
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// The helpers below expect s.mu to be held.

func (s *Session) indexOf(contactID string) int {
	if contactID == "" {
		return -1
	}
	for i := range s.contacts {
		if s.contacts[i].ID == contactID {
			return i
		}
	}
	return -1
}

// insert adds m to the conversation with peer, after every message with the
// same or an earlier timestamp. A message that is already known only has
// its read flag merged.
func (s *Session) insert(peer string, m domain.Message) {
	thread := s.threads[peer]
	if _, ok := s.peerOf[m.ID]; ok {
		if m.IsRead {
			s.setRead(peer, m.ID)
		}
		return
	}
	i := len(thread)
	for i > 0 && thread[i-1].Timestamp.After(m.Timestamp) {
		i--
	}
	thread = append(thread, domain.Message{})
	copy(thread[i+1:], thread[i:])
	thread[i] = m
	s.threads[peer] = thread
	s.peerOf[m.ID] = peer
}

func (s *Session) setRead(peer, id string) bool {
	thread := s.threads[peer]
	for i := range thread {
		if thread[i].ID == id {
			if thread[i].IsRead {
				return false
			}
			thread[i].IsRead = true
			return true
		}
	}
	return false
}

func (s *Session) isRead(peer, id string) bool {
	for _, m := range s.threads[peer] {
		if m.ID == id {
			return m.IsRead
		}
	}
	return false
}

// refresh recomputes the preview and unread count of a contact. The
// selected contact never shows unread messages.
func (s *Session) refresh(contactID string) {
	i := s.indexOf(contactID)
	if i < 0 {
		return
	}
	c := conversation.Summarize(s.contacts[i:i+1], s.threads)[0]
	if contactID == s.selected {
		c.UnreadCount = 0
	}
	s.contacts[i] = c
}

// setTyping sets the typing flag of a contact. Every call supersedes the
// pending auto clear of the previous one.
func (s *Session) setTyping(contactID string, on bool) {
	i := s.indexOf(contactID)
	if i < 0 {
		return
	}
	t := s.typing[contactID]
	if t == nil {
		t = &typingTimer{}
		s.typing[contactID] = t
	} else {
		t.stop()
	}
	t.gen++
	s.contacts[i].IsTyping = on
	if !on {
		return
	}
	gen := t.gen
	t.timer = s.clock.AfterFunc(TypingTimeout, func() { s.clearTyping(contactID, gen) })
}

func (s *Session) clearTyping(contactID string, gen uint64) {
	s.mu.Lock()
	t := s.typing[contactID]
	i := s.indexOf(contactID)
	if s.closed || t == nil || t.gen != gen || i < 0 {
		s.mu.Unlock()
		return
	}
	t.timer = nil
	s.contacts[i].IsTyping = false
	s.mu.Unlock()

	s.changed()
}

func unreadFrom(thread []domain.Message, peer string) []string {
	var ids []string
	for _, m := range thread {
		if m.SenderID == peer && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
