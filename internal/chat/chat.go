// Package chat holds the conversation domain: users, two-party
// conversations and messages, backed by PostgreSQL.
package chat

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("chat: not found")
	ErrNotMessageOwner = errors.New("chat: message belongs to another user")
	ErrRecallExpired   = errors.New("chat: message is too old to recall")
)

// RecallWindow is how long after sending a message may still be recalled.
const RecallWindow = 24 * time.Hour

// Role partitions the directory into the two sides of a conversation.
type Role string

const (
	RoleExpert     Role = "expert"
	RoleEnterprise Role = "enterprise"
)

// Counterpart returns the role a user of this role talks to.
func (r Role) Counterpart() Role {
	if r == RoleEnterprise {
		return RoleExpert
	}
	return RoleEnterprise
}

// MessageType distinguishes text from attachment messages. For attachment
// types the content field carries the storage object key, never a signed
// URL.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageAudio MessageType = "audio"
	MessageVideo MessageType = "video"
)

// MessageStatus tracks delivery acknowledgement.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// User is a directory entry. PasswordHash never leaves the store layer.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Title        string    `json:"title,omitempty"`
	Organization string    `json:"organization,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	Specialty    string    `json:"specialty,omitempty"`
	Mobile       string    `json:"mobile,omitempty"`
	CreditCode   string    `json:"creditCode,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Conversation is one user's view of a two-party thread. Each party owns
// its own row so unread counts stay independent.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	ParticipantID string    `json:"participantId"`
	UnreadCount   int       `json:"unreadCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Populated by list queries, not stored.
	Participant *User    `json:"participant,omitempty"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// Message is a single chat message between two users.
type Message struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Type       MessageType   `json:"type"`
	Content    string        `json:"content"`
	FileName   string        `json:"fileName,omitempty"`
	FileSize   int64         `json:"fileSize,omitempty"`
	Status     MessageStatus `json:"status"`
	Recalled   bool          `json:"recalled"`
	CreatedAt  time.Time     `json:"timestamp"`
}

// Page describes pagination metadata returned alongside contact lists.
type Page struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}
