// Package realtime defines the store adapter the sync engines run against:
// typed change feeds per collection plus write primitives. Unread counters
// and viewer sets are only reachable through atomic increment/set-union
// operations so concurrent writers never lose updates to a
// read-modify-write cycle.
package realtime

import (
	"context"

	"github.com/parley-im/parley/internal/delivery"
	"github.com/parley-im/parley/internal/model"
)

// ChangeKind classifies a change event.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// UserChange is a change event on the users collection.
type UserChange struct {
	Kind ChangeKind
	User model.User
}

// ChatChange is a change event on the chats collection.
type ChatChange struct {
	Kind ChangeKind
	Chat model.Chat
}

// MessageChange is a change event on one chat's message stream.
type MessageChange struct {
	Kind    ChangeKind
	ChatID  string
	Message model.Message
}

// StatusChange is a change event on the statuses collection.
type StatusChange struct {
	Kind   ChangeKind
	Status model.Status
}

// Store is the realtime document store the engines reconcile against.
// Subscriptions replay the current matching documents as Added events and
// then stream live changes until the unsubscribe function is called or the
// context is canceled.
type Store interface {
	SubscribeUsers(ctx context.Context) (<-chan UserChange, func(), error)
	SubscribeChats(ctx context.Context, participantID string) (<-chan ChatChange, func(), error)
	SubscribeMessages(ctx context.Context, chatID string) (<-chan MessageChange, func(), error)
	SubscribeStatuses(ctx context.Context, sinceMs int64) (<-chan StatusChange, func(), error)

	// UpsertUser creates or replaces a user profile.
	UpsertUser(ctx context.Context, u model.User) error
	// GetUserByPhone looks up an account for sign-in. Returns nil if absent.
	GetUserByPhone(ctx context.Context, phone string) (*model.User, error)
	// GetUser returns a user profile, or nil if absent.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// EnsureChat creates the chat if no document with the same id exists and
	// is a no-op otherwise, making chat creation an idempotent upsert.
	EnsureChat(ctx context.Context, c model.Chat) error
	// GetChat returns a chat, or nil if absent.
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	// BumpChat updates the chat's denormalized last-message snapshot and
	// updatedAt, and atomically increments the unread counter of every id in
	// unreadFor.
	BumpChat(ctx context.Context, chatID, lastBody, lastSender string, atMs int64, unreadFor []string) error
	// ResetUnread atomically zeroes one participant's unread counter.
	ResetUnread(ctx context.Context, chatID, userID string) error

	// PutMessage creates or replaces a message document.
	PutMessage(ctx context.Context, m model.Message) error
	// SetMessageStatus advances a message's delivery status. Implementations
	// must not regress the stored status.
	SetMessageStatus(ctx context.Context, chatID, msgID string, st delivery.Status) error

	// PutStatus creates a broadcast status document.
	PutStatus(ctx context.Context, s model.Status) error
	// GetStatus returns a broadcast status, or nil if absent.
	GetStatus(ctx context.Context, id string) (*model.Status, error)
	// AddStatusViewer adds a viewer to the status's viewer set. The insert is
	// an atomic set-union: adding an existing viewer changes nothing.
	AddStatusViewer(ctx context.Context, statusID, viewerID string) error
	// DeleteStatus removes a broadcast status document.
	DeleteStatus(ctx context.Context, statusID string) error
}

// Blobs stores uploaded media and hands back durable URLs.
type Blobs interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (url string, err error)
	Remove(ctx context.Context, key string) error
}
