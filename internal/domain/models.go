package domain

import (
	"strings"
	"time"
)

// MessageType classifies message payloads.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageVideo MessageType = "video"
)

// AttachmentPlaceholder is stored as the content of attachment messages
// sent without text.
const AttachmentPlaceholder = "Attachment"

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageVideo:
		return true
	}
	return false
}

// User represents an application user.
type User struct {
	ID                 string    `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	Email              string    `db:"email" json:"email"`
	Avatar             *string   `db:"avatar" json:"avatar,omitempty"`
	IsAdmin            bool      `db:"is_admin" json:"is_admin"`
	SecurityQuestion   *string   `db:"security_question" json:"security_question,omitempty"`
	SecurityAnswerHash string    `db:"security_answer_hash" json:"-"`
	HashedPassword     string    `db:"hashed_password" json:"-"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Contact is a user projected into the contact list of another user.
// It is derived from users and messages and never persisted.
type Contact struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Avatar          *string    `json:"avatar,omitempty"`
	IsAdmin         bool       `json:"is_admin"`
	LastMessage     *string    `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	UnreadCount     int        `json:"unread_count"`
	IsOnline        bool       `json:"is_online"`
	IsTyping        bool       `json:"is_typing"`
}

// Message represents a single direct message between two users.
type Message struct {
	ID          string      `db:"id" json:"id"`
	SenderID    string      `db:"sender_id" json:"sender_id"`
	RecipientID string      `db:"recipient_id" json:"recipient_id"`
	Content     string      `db:"content" json:"content"`
	Timestamp   time.Time   `db:"created_at" json:"timestamp"`
	IsRead      bool        `db:"is_read" json:"is_read"`
	Type        MessageType `db:"type" json:"type"`
	FileURL     *string     `db:"file_url" json:"file_url,omitempty"`
}

// Involves reports whether userID is the sender or the recipient of m.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// TypeForMIME classifies an attachment by its MIME type prefix.
func TypeForMIME(mime string) MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageImage
	case strings.HasPrefix(mime, "video/"):
		return MessageVideo
	default:
		return MessageFile
	}
}
