package model

import (
	"time"

	"github.com/parley-im/parley/internal/delivery"
)

// User is an account profile as stored in the users collection.
type User struct {
	ID           string `json:"id" bson:"_id"`
	Name         string `json:"name" bson:"name"`
	Phone        string `json:"phone" bson:"phone"`
	Avatar       string `json:"avatar,omitempty" bson:"avatar,omitempty"`
	About        string `json:"about,omitempty" bson:"about,omitempty"`
	IsOnline     bool   `json:"is_online" bson:"is_online"`
	LastSeen     int64  `json:"last_seen" bson:"last_seen"` // unix ms
	PasswordHash string `json:"-" bson:"password_hash,omitempty"`
}

// Contact is a user as seen by someone else. Derived from the users
// collection by enumerating everyone except self; it has no lifecycle of
// its own.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	About    string `json:"about,omitempty"`
	IsOnline bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen"`
}

// ContactFromUser strips the account-private fields off a user profile.
func ContactFromUser(u User) Contact {
	return Contact{
		ID:       u.ID,
		Name:     u.Name,
		Avatar:   u.Avatar,
		About:    u.About,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

// ChatKind distinguishes one-to-one chats from groups.
type ChatKind string

const (
	Individual ChatKind = "individual"
	Group      ChatKind = "group"
)

// MessageType tags the content of a message.
type MessageType string

const (
	TextMessage     MessageType = "text"
	ImageMessage    MessageType = "image"
	VideoMessage    MessageType = "video"
	AudioMessage    MessageType = "audio"
	DocumentMessage MessageType = "document"
)

// KnownMessageType reports whether t is a recognized message type.
func KnownMessageType(t MessageType) bool {
	switch t {
	case TextMessage, ImageMessage, VideoMessage, AudioMessage, DocumentMessage:
		return true
	}
	return false
}

// MediaRef points at an uploaded blob attached to a message.
type MediaRef struct {
	URL      string `json:"url" bson:"url"`
	Key      string `json:"key" bson:"key"`
	FileName string `json:"file_name" bson:"file_name"`
	FileSize int64  `json:"file_size" bson:"file_size"`
}

// Chat is a conversation document. UnreadCounts maps participant id to that
// participant's unread counter; counters are only ever mutated through the
// store's atomic increment/reset primitives.
type Chat struct {
	ID                string          `json:"id" bson:"_id"`
	Kind              ChatKind        `json:"kind" bson:"kind"`
	Participants      []string        `json:"participants" bson:"participants"`
	LastMessageBody   string          `json:"last_message_body" bson:"last_message_body"`
	LastMessageSender string          `json:"last_message_sender" bson:"last_message_sender"`
	LastMessageAt     int64           `json:"last_message_at" bson:"last_message_at"`
	UnreadCounts      map[string]int  `json:"unread_counts" bson:"unread_counts"`
	CreatedAt         int64           `json:"created_at" bson:"created_at"`
	UpdatedAt         int64           `json:"updated_at" bson:"updated_at"` // sole sort key for chat lists
}

// Unread returns the unread counter for one participant.
func (c *Chat) Unread(userID string) int {
	if c.UnreadCounts == nil {
		return 0
	}
	return c.UnreadCounts[userID]
}

// HasParticipant reports whether id is part of the chat.
func (c *Chat) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Peer returns the other participant of an individual chat.
func (c *Chat) Peer(selfID string) (string, bool) {
	if c.Kind != Individual {
		return "", false
	}
	for _, p := range c.Participants {
		if p != selfID {
			return p, true
		}
	}
	return "", false
}

// Message is a single chat message. Content is immutable after creation;
// only the delivery status advances.
type Message struct {
	ID        string          `json:"id" bson:"_id"`
	ChatID    string          `json:"chat_id" bson:"chat_id"`
	SenderID  string          `json:"sender_id" bson:"sender_id"`
	Body      string          `json:"body" bson:"body"`
	Type      MessageType     `json:"type" bson:"type"`
	Status    delivery.Status `json:"status" bson:"status"`
	Timestamp int64           `json:"timestamp" bson:"timestamp"` // unix ms, server-authoritative once acked
	Media     *MediaRef       `json:"media,omitempty" bson:"media,omitempty"`
}

// StatusType tags the content of a broadcast status.
type StatusType string

const (
	ImageStatus StatusType = "image"
	VideoStatus StatusType = "video"
	TextStatus  StatusType = "text"
)

// StatusTTL is how long a broadcast status stays visible.
const StatusTTL = 24 * time.Hour

// Status is an ephemeral 24-hour broadcast. Author name/avatar are
// denormalized so lists render without a user lookup. ViewedBy grows
// monotonically through the store's set-union primitive.
type Status struct {
	ID              string     `json:"id" bson:"_id"`
	UserID          string     `json:"user_id" bson:"user_id"`
	UserName        string     `json:"user_name" bson:"user_name"`
	UserAvatar      string     `json:"user_avatar,omitempty" bson:"user_avatar,omitempty"`
	MediaURL        string     `json:"media_url,omitempty" bson:"media_url,omitempty"`
	MediaKey        string     `json:"media_key,omitempty" bson:"media_key,omitempty"`
	Caption         string     `json:"caption,omitempty" bson:"caption,omitempty"`
	Type            StatusType `json:"type" bson:"type"`
	BackgroundColor string     `json:"background_color,omitempty" bson:"background_color,omitempty"`
	CreatedAt       int64      `json:"created_at" bson:"created_at"` // unix ms
	ViewedBy        []string   `json:"viewed_by" bson:"viewed_by"`
}

// ViewedByUser reports whether the given viewer has seen this status.
func (s *Status) ViewedByUser(id string) bool {
	for _, v := range s.ViewedBy {
		if v == id {
			return true
		}
	}
	return false
}

// Expired reports whether the status fell out of its 24h window at the
// given instant (unix ms).
func (s *Status) Expired(nowMs int64) bool {
	return nowMs-s.CreatedAt >= StatusTTL.Milliseconds()
}
