package engine

import (
	"testing"

	"github.com/parley-im/parley/internal/delivery"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/realtime"
)

func TestFoldChatsOrdering(t *testing.T) {
	var chats []model.Chat
	for _, c := range []model.Chat{
		{ID: "a", UpdatedAt: 100},
		{ID: "b", UpdatedAt: 300},
		{ID: "c", UpdatedAt: 200},
	} {
		chats = foldChats(chats, realtime.ChatChange{Kind: realtime.Added, Chat: c})
	}
	if chats[0].ID != "b" || chats[1].ID != "c" || chats[2].ID != "a" {
		t.Errorf("order = %s,%s,%s; want b,c,a", chats[0].ID, chats[1].ID, chats[2].ID)
	}

	// Updating an old chat moves it to the top.
	chats = foldChats(chats, realtime.ChatChange{Kind: realtime.Modified, Chat: model.Chat{ID: "a", UpdatedAt: 400}})
	if len(chats) != 3 || chats[0].ID != "a" {
		t.Errorf("after bump, order = %v", chats)
	}

	chats = foldChats(chats, realtime.ChatChange{Kind: realtime.Removed, Chat: model.Chat{ID: "c"}})
	if len(chats) != 2 {
		t.Errorf("after remove, %d chats", len(chats))
	}
}

func TestBumpLocalChat(t *testing.T) {
	chats := []model.Chat{
		{ID: "top", UpdatedAt: 300},
		{ID: "bottom", UpdatedAt: 100},
	}
	chats = bumpLocalChat(chats, "bottom", "new msg", "alice", 500)
	if chats[0].ID != "bottom" {
		t.Errorf("bumped chat not first: %v", chats)
	}
	if chats[0].LastMessageBody != "new msg" || chats[0].LastMessageSender != "alice" {
		t.Errorf("snapshot = %+v", chats[0])
	}
}

func TestFoldMessagesOutOfOrderStatus(t *testing.T) {
	msgs := foldMessages(nil, realtime.MessageChange{Kind: realtime.Added, Message: model.Message{
		ID: "m1", SenderID: "alice", Status: delivery.Read, Timestamp: 100,
	}})

	// A stale delivered event arrives after read; status must not regress.
	msgs = foldMessages(msgs, realtime.MessageChange{Kind: realtime.Modified, Message: model.Message{
		ID: "m1", SenderID: "alice", Status: delivery.Delivered, Timestamp: 100,
	}})
	if msgs[0].Status != delivery.Read {
		t.Errorf("status regressed to %s", msgs[0].Status)
	}
}

func TestFoldMessagesAdoptsServerTimestamp(t *testing.T) {
	msgs := foldMessages(nil, realtime.MessageChange{Kind: realtime.Added, Message: model.Message{
		ID: "m1", Status: delivery.Sending, Timestamp: 100, Body: "hi",
	}})
	msgs = foldMessages(msgs, realtime.MessageChange{Kind: realtime.Modified, Message: model.Message{
		ID: "m1", Status: delivery.Sent, Timestamp: 140, Body: "hi",
	}})
	if len(msgs) != 1 {
		t.Fatalf("optimistic insert not matched by id, %d messages", len(msgs))
	}
	if msgs[0].Timestamp != 140 || msgs[0].Status != delivery.Sent {
		t.Errorf("message = %+v, want server timestamp 140 and sent", msgs[0])
	}
}

func TestFoldMessagesSortsByTimestamp(t *testing.T) {
	var msgs []model.Message
	for _, m := range []model.Message{
		{ID: "b", Timestamp: 200},
		{ID: "a", Timestamp: 100},
		{ID: "c", Timestamp: 300},
	} {
		msgs = foldMessages(msgs, realtime.MessageChange{Kind: realtime.Added, Message: m})
	}
	if msgs[0].ID != "a" || msgs[1].ID != "b" || msgs[2].ID != "c" {
		t.Errorf("order = %s,%s,%s; want a,b,c", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
}

func TestFoldContactsSortedByName(t *testing.T) {
	var contacts []model.Contact
	for _, u := range []model.User{
		{ID: "u2", Name: "Zoe"},
		{ID: "u1", Name: "Ann"},
	} {
		contacts = foldContacts(contacts, realtime.UserChange{Kind: realtime.Added, User: u})
	}
	if contacts[0].Name != "Ann" {
		t.Errorf("contacts = %+v, want Ann first", contacts)
	}

	contacts = foldContacts(contacts, realtime.UserChange{Kind: realtime.Removed, User: model.User{ID: "u1"}})
	if len(contacts) != 1 || contacts[0].ID != "u2" {
		t.Errorf("after remove, contacts = %+v", contacts)
	}
}
