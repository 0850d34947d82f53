package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// PairChatID derives the id of an individual chat from its two participants.
// The pair is sorted before hashing, so both sides compute the same id and
// concurrent create-or-get calls converge on a single chat document instead
// of racing a read-scan-then-create.
func PairChatID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + "\x00" + b))
	return hex.EncodeToString(sum[:16])
}

// NewMessageID returns a client-generated message id. It doubles as the
// idempotency key that matches an optimistic local insert with its
// authoritative counterpart from the store.
func NewMessageID() string {
	return uuid.New().String()
}

// NewStatusID returns an id for a new broadcast status.
func NewStatusID() string {
	return uuid.New().String()
}

// NewUserID returns an id for a new account.
func NewUserID() string {
	return uuid.New().String()
}
