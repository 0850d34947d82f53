package engine

import (
	"sort"

	"github.com/parley-im/parley/internal/delivery"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/realtime"
)

// The fold helpers are pure: they take the current projection and one change
// event and return the next projection. The engine serializes calls, so they
// never see concurrent input.

func foldChats(chats []model.Chat, ch realtime.ChatChange) []model.Chat {
	out := make([]model.Chat, 0, len(chats)+1)
	found := false
	for _, c := range chats {
		if c.ID == ch.Chat.ID {
			found = true
			if ch.Kind == realtime.Removed {
				continue
			}
			out = append(out, ch.Chat)
			continue
		}
		out = append(out, c)
	}
	if !found && ch.Kind != realtime.Removed {
		out = append(out, ch.Chat)
	}
	sortChats(out)
	return out
}

// sortChats orders most recently updated first. UpdatedAt is the only sort
// key; the id tiebreak just keeps the order deterministic.
func sortChats(chats []model.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt != chats[j].UpdatedAt {
			return chats[i].UpdatedAt > chats[j].UpdatedAt
		}
		return chats[i].ID < chats[j].ID
	})
}

// bumpLocalChat applies an optimistic last-message snapshot to the local chat
// list so a just-sent message reorders the list before the store confirms.
func bumpLocalChat(chats []model.Chat, chatID, lastBody, lastSender string, atMs int64) []model.Chat {
	out := make([]model.Chat, len(chats))
	copy(out, chats)
	for i, c := range out {
		if c.ID != chatID {
			continue
		}
		c.LastMessageBody = lastBody
		c.LastMessageSender = lastSender
		c.LastMessageAt = atMs
		c.UpdatedAt = atMs
		out[i] = c
		break
	}
	sortChats(out)
	return out
}

func foldContacts(contacts []model.Contact, ch realtime.UserChange) []model.Contact {
	contact := model.ContactFromUser(ch.User)
	out := make([]model.Contact, 0, len(contacts)+1)
	found := false
	for _, c := range contacts {
		if c.ID == contact.ID {
			found = true
			if ch.Kind == realtime.Removed {
				continue
			}
			out = append(out, contact)
			continue
		}
		out = append(out, c)
	}
	if !found && ch.Kind != realtime.Removed {
		out = append(out, contact)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func foldMessages(msgs []model.Message, ch realtime.MessageChange) []model.Message {
	out := make([]model.Message, 0, len(msgs)+1)
	found := false
	for _, m := range msgs {
		if m.ID == ch.Message.ID {
			found = true
			if ch.Kind == realtime.Removed {
				continue
			}
			out = append(out, mergeMessage(m, ch.Message))
			continue
		}
		out = append(out, m)
	}
	if !found && ch.Kind != realtime.Removed {
		out = append(out, ch.Message)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// mergeMessage reconciles a locally known message with its counterpart from
// the store. Content and timestamp are taken from the store (authoritative
// once acked); the delivery status merges monotonically so a stale change
// event never walks a read message back to delivered.
func mergeMessage(local, incoming model.Message) model.Message {
	merged := incoming
	merged.Status = delivery.Merge(local.Status, incoming.Status)
	return merged
}
