// Package conversation derives contact lists and conversation identity
// for the two-role (admin / standard user) chat model.
//
// Everything here is pure: no I/O, no clocks, no shared state.
package conversation

import (
	"sort"
	"strings"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
)

// KeySeparator joins the two participant ids of a conversation key.
const KeySeparator = ":"

// PreviewLimit is the number of characters kept in a contact's last message preview.
const PreviewLimit = 30

// Key returns the conversation key for two participants. The result does
// not depend on argument order.
func Key(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, KeySeparator)
}

// ResolveContacts returns the contacts visible to current.
//
// An admin sees every other user. A standard user sees only the admin, or
// nobody when no admin exists yet.
func ResolveContacts(current *domain.User, all []*domain.User) []domain.Contact {
	if current == nil {
		return nil
	}
	contacts := make([]domain.Contact, 0, len(all))
	if current.IsAdmin {
		for _, u := range all {
			if u == nil || u.ID == current.ID {
				continue
			}
			contacts = append(contacts, contactFor(u))
		}
		return contacts
	}
	if admin := FindAdmin(all); admin != nil && admin.ID != current.ID {
		contacts = append(contacts, contactFor(admin))
	}
	return contacts
}

// FindAdmin returns the admin in users, or nil.
func FindAdmin(users []*domain.User) *domain.User {
	for _, u := range users {
		if u != nil && u.IsAdmin {
			return u
		}
	}
	return nil
}

// CanMessage reports whether a conversation between a and b is allowed.
// Exactly one of the two must be the admin.
func CanMessage(a, b *domain.User) bool {
	if a == nil || b == nil || a.ID == b.ID {
		return false
	}
	return a.IsAdmin != b.IsAdmin
}

// PeerOf returns the other participant of m from userID's point of view,
// or "" when userID is not part of the conversation.
func PeerOf(userID string, m domain.Message) string {
	switch userID {
	case m.SenderID:
		return m.RecipientID
	case m.RecipientID:
		return m.SenderID
	}
	return ""
}

// Visible reports whether current may observe m given the admin's id.
// Standard users only see their thread with the admin.
func Visible(current *domain.User, adminID string, m domain.Message) bool {
	if current == nil || !m.Involves(current.ID) {
		return false
	}
	if current.IsAdmin {
		return true
	}
	return adminID != "" && PeerOf(current.ID, m) == adminID
}

// Preview renders the last-message text of a contact. Attachment-only
// messages get a label; long text is truncated with an ellipsis.
func Preview(content string, t domain.MessageType) string {
	text := content
	if t != domain.MessageText && (text == "" || text == domain.AttachmentPlaceholder) {
		switch t {
		case domain.MessageImage:
			text = "Image sent"
		case domain.MessageFile:
			text = "File sent"
		case domain.MessageVideo:
			text = "Video sent"
		}
	}
	return Truncate(text, PreviewLimit)
}

// Truncate shortens s to limit runes, appending "..." when it was longer.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// AsContact projects a user into a contact with zeroed conversation state.
func AsContact(u *domain.User) domain.Contact {
	return contactFor(u)
}

func contactFor(u *domain.User) domain.Contact {
	return domain.Contact{
		ID:          u.ID,
		Name:        u.Name,
		Avatar:      u.Avatar,
		IsAdmin:     u.IsAdmin,
		UnreadCount: 0,
		IsOnline:    true,
		IsTyping:    false,
	}
}
