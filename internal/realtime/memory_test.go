package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/parley-im/parley/internal/delivery"
	"github.com/parley-im/parley/internal/model"
)

func recvChat(t *testing.T, ch <-chan ChatChange) ChatChange {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for chat change")
		return ChatChange{}
	}
}

func TestSubscribeChatsReplaysAndStreams(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	existing := model.Chat{ID: "c1", Kind: model.Individual, Participants: []string{"a", "b"}}
	if err := m.EnsureChat(ctx, existing); err != nil {
		t.Fatal(err)
	}

	ch, unsub, err := m.SubscribeChats(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	ev := recvChat(t, ch)
	if ev.Kind != Added || ev.Chat.ID != "c1" {
		t.Errorf("replay = %v %q, want added c1", ev.Kind, ev.Chat.ID)
	}

	// Live change.
	if err := m.BumpChat(ctx, "c1", "hi", "a", 5000, []string{"b"}); err != nil {
		t.Fatal(err)
	}
	ev = recvChat(t, ch)
	if ev.Kind != Modified || ev.Chat.LastMessageBody != "hi" {
		t.Errorf("live change = %v %q, want modified hi", ev.Kind, ev.Chat.LastMessageBody)
	}
}

func TestSubscribeChatsFiltersByParticipant(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ch, unsub, err := m.SubscribeChats(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	_ = m.EnsureChat(ctx, model.Chat{ID: "ab", Participants: []string{"a", "b"}})
	_ = m.EnsureChat(ctx, model.Chat{ID: "ac", Participants: []string{"a", "carol"}})

	ev := recvChat(t, ch)
	if ev.Chat.ID != "ac" {
		t.Errorf("got chat %q, want ac (not a participant of ab)", ev.Chat.ID)
	}
}

func TestEnsureChatIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	c := model.Chat{ID: "c1", Participants: []string{"a", "b"}, UpdatedAt: 100}
	if err := m.EnsureChat(ctx, c); err != nil {
		t.Fatal(err)
	}
	_ = m.BumpChat(ctx, "c1", "hello", "a", 200, []string{"b"})

	// A late concurrent create must not clobber the existing document.
	if err := m.EnsureChat(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetChat(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessageBody != "hello" || got.UnreadCounts["b"] != 1 {
		t.Errorf("EnsureChat overwrote existing chat: %+v", got)
	}
}

func TestBumpChatIncrementsUnread(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.EnsureChat(ctx, model.Chat{ID: "c1", Participants: []string{"a", "b"}})

	_ = m.BumpChat(ctx, "c1", "one", "a", 100, []string{"b"})
	_ = m.BumpChat(ctx, "c1", "two", "a", 200, []string{"b"})

	c, _ := m.GetChat(ctx, "c1")
	if c.UnreadCounts["b"] != 2 {
		t.Errorf("unread[b] = %d, want 2", c.UnreadCounts["b"])
	}
	if c.UnreadCounts["a"] != 0 {
		t.Errorf("unread[a] = %d, want 0 (sender never incremented)", c.UnreadCounts["a"])
	}
	if c.UpdatedAt != 200 {
		t.Errorf("updatedAt = %d, want 200", c.UpdatedAt)
	}

	if err := m.ResetUnread(ctx, "c1", "b"); err != nil {
		t.Fatal(err)
	}
	c, _ = m.GetChat(ctx, "c1")
	if c.UnreadCounts["b"] != 0 {
		t.Errorf("unread[b] after reset = %d, want 0", c.UnreadCounts["b"])
	}
}

func TestSetMessageStatusMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	msg := model.Message{ID: "m1", ChatID: "c1", SenderID: "a", Body: "hi", Type: model.TextMessage, Status: delivery.Sent, Timestamp: 100}
	if err := m.PutMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	if err := m.SetMessageStatus(ctx, "c1", "m1", delivery.Read); err != nil {
		t.Fatal(err)
	}
	// A stale "delivered" arriving after "read" must not regress.
	if err := m.SetMessageStatus(ctx, "c1", "m1", delivery.Delivered); err != nil {
		t.Fatal(err)
	}

	ch, unsub, _ := m.SubscribeMessages(ctx, "c1")
	defer unsub()
	ev := <-ch
	if ev.Message.Status != delivery.Read {
		t.Errorf("status = %s, want read", ev.Message.Status)
	}
}

func TestAddStatusViewerIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.PutStatus(ctx, model.Status{ID: "s1", UserID: "a", Type: model.TextStatus, CreatedAt: 100})
	if err := m.AddStatusViewer(ctx, "s1", "b"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddStatusViewer(ctx, "s1", "b"); err != nil {
		t.Fatal(err)
	}

	s, _ := m.GetStatus(ctx, "s1")
	if len(s.ViewedBy) != 1 {
		t.Errorf("viewer set size = %d, want 1 (set-union insert)", len(s.ViewedBy))
	}
}

func TestSubscribeStatusesSinceFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.PutStatus(ctx, model.Status{ID: "old", UserID: "a", CreatedAt: 50})
	_ = m.PutStatus(ctx, model.Status{ID: "new", UserID: "a", CreatedAt: 500})

	ch, unsub, err := m.SubscribeStatuses(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	ev := <-ch
	if ev.Status.ID != "new" {
		t.Errorf("got status %q, want new (old is before the window)", ev.Status.ID)
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected extra status %q", ev.Status.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeleteStatusEmitsRemoved(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.PutStatus(ctx, model.Status{ID: "s1", UserID: "a", CreatedAt: 100})

	ch, unsub, _ := m.SubscribeStatuses(ctx, 0)
	defer unsub()
	<-ch // replayed add

	if err := m.DeleteStatus(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	ev := <-ch
	if ev.Kind != Removed || ev.Status.ID != "s1" {
		t.Errorf("got %v %q, want removed s1", ev.Kind, ev.Status.ID)
	}
}

func TestMemoryBlobs(t *testing.T) {
	b := NewMemoryBlobs()
	ctx := context.Background()

	url, err := b.Upload(ctx, "chats/c1/photo.jpg", "image/jpeg", []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if url != "memory://chats/c1/photo.jpg" {
		t.Errorf("url = %q", url)
	}
	if err := b.Remove(ctx, "chats/c1/photo.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := b.Remove(ctx, "chats/c1/photo.jpg"); err == nil {
		t.Error("Remove of missing blob should fail")
	}
}
