package domain

import (
	"context"
)

// UserRepository defines persistence operations for users.
//
// Getters return (nil, nil) when no row matches.
type UserRepository interface {
	// Create inserts u and decides u.IsAdmin: the first stored user becomes
	// the admin, atomically with respect to concurrent inserts.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetAdmin(ctx context.Context) (*User, error)
	List(ctx context.Context) ([]*User, error)
	UpdatePassword(ctx context.Context, id, hashedPassword string) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// FindByFileURL returns a message carrying fileURL that userID sent or
	// received, or nil when there is none.
	FindByFileURL(ctx context.Context, fileURL, userID string) (*Message, error)
	// ListForUser returns every message sent or received by userID, oldest first.
	ListForUser(ctx context.Context, userID string) ([]*Message, error)
	// MarkRead flips is_read for the unread messages in ids addressed to
	// recipientID and returns the ids that changed.
	MarkRead(ctx context.Context, recipientID string, ids []string) ([]string, error)
}
