// Package events carries the realtime change feed: message inserts,
// read-receipt updates and typing signals, routed to the two participants
// of a conversation.
package events

import (
	"context"
	"errors"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
)

type Type string

const (
	MessageCreated Type = "message.created"
	MessageUpdated Type = "message.updated"
	Typing         Type = "typing"
)

// Event is one entry of the change feed.
type Event struct {
	Type     Type            `json:"type"`
	Message  *domain.Message `json:"message,omitempty"`
	FromID   string          `json:"from_id,omitempty"`
	ToID     string          `json:"to_id,omitempty"`
	IsTyping bool            `json:"is_typing,omitempty"`
}

// Audience returns the user ids entitled to receive e.
func (e Event) Audience() []string {
	switch e.Type {
	case MessageCreated, MessageUpdated:
		if e.Message == nil {
			return nil
		}
		if e.Message.SenderID == e.Message.RecipientID {
			return []string{e.Message.SenderID}
		}
		return []string{e.Message.SenderID, e.Message.RecipientID}
	case Typing:
		if e.ToID == "" {
			return nil
		}
		return []string{e.ToID}
	}
	return nil
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes every event to each of its publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MessageCreatedEvent builds the insert event for m.
func MessageCreatedEvent(m domain.Message) Event {
	return Event{Type: MessageCreated, Message: &m}
}

// MessageUpdatedEvent builds the update event for m.
func MessageUpdatedEvent(m domain.Message) Event {
	return Event{Type: MessageUpdated, Message: &m}
}

// TypingEvent builds a typing signal from one participant to the other.
func TypingEvent(fromID, toID string, isTyping bool) Event {
	return Event{Type: Typing, FromID: fromID, ToID: toID, IsTyping: isTyping}
}
