package broadcast

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parley-im/parley/internal/bus"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/realtime"
)

var (
	alice = model.User{ID: "alice", Name: "Alice", Avatar: "http://cdn/a.png"}
	bob   = model.User{ID: "bob", Name: "Bob"}
)

type fixture struct {
	store *realtime.Memory
	blobs *realtime.MemoryBlobs
	eng   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: realtime.NewMemory(),
		blobs: realtime.NewMemoryBlobs(),
	}
	f.eng = New(f.store, f.blobs, bus.New(), zap.NewNop())
	t.Cleanup(f.eng.Stop)
	return f
}

func (f *fixture) start(t *testing.T, self model.User) {
	t.Helper()
	if err := f.eng.Start(context.Background(), self); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// seed posts a status directly into the store as another user.
func seed(t *testing.T, f *fixture, owner model.User, id string, createdAt int64) {
	t.Helper()
	err := f.store.PutStatus(context.Background(), model.Status{
		ID: id, UserID: owner.ID, UserName: owner.Name,
		Caption: "hi", Type: model.TextStatus, CreatedAt: createdAt,
		ViewedBy: []string{},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAddTextStatus(t *testing.T) {
	f := newFixture(t)
	f.start(t, alice)

	id, err := f.eng.AddStatus(context.Background(), model.TextStatus, "hello world", "#075e54", nil)
	if err != nil {
		t.Fatal(err)
	}

	mine := f.eng.Mine()
	if len(mine) != 1 || mine[0].ID != id {
		t.Fatalf("mine = %+v, want the posted status", mine)
	}
	if mine[0].UserName != "Alice" || mine[0].UserAvatar != alice.Avatar {
		t.Errorf("author not denormalized: %+v", mine[0])
	}
	if mine[0].BackgroundColor != "#075e54" {
		t.Errorf("background = %q", mine[0].BackgroundColor)
	}

	s, err := f.store.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if s == nil {
		t.Fatal("status not written to store")
	}
}

func TestAddStatusWithMedia(t *testing.T) {
	f := newFixture(t)
	f.start(t, alice)

	id, err := f.eng.AddStatus(context.Background(), model.ImageStatus, "beach", "", &MediaUpload{
		FileName:    "beach.jpg",
		ContentType: "image/jpeg",
		Data:        []byte("pixels"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.blobs.Len() != 1 {
		t.Errorf("blob count = %d, want 1", f.blobs.Len())
	}

	s, _ := f.store.GetStatus(context.Background(), id)
	if s == nil || !strings.HasPrefix(s.MediaURL, "memory://statuses/alice/") {
		t.Errorf("media url = %+v", s)
	}
}

func TestAddStatusValidation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.eng.AddStatus(context.Background(), model.TextStatus, "x", "", nil); !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("before start: err = %v, want ErrAuthRequired", err)
	}

	f.start(t, alice)
	if _, err := f.eng.AddStatus(context.Background(), model.TextStatus, "  ", "", nil); !errors.Is(err, model.ErrValidation) {
		t.Errorf("blank caption: err = %v, want ErrValidation", err)
	}
	if _, err := f.eng.AddStatus(context.Background(), model.ImageStatus, "no file", "", nil); !errors.Is(err, model.ErrValidation) {
		t.Errorf("image without media: err = %v, want ErrValidation", err)
	}
	if _, err := f.eng.AddStatus(context.Background(), "hologram", "x", "", nil); !errors.Is(err, model.ErrValidation) {
		t.Errorf("unknown type: err = %v, want ErrValidation", err)
	}
}

func TestPartitionsAndMarkViewed(t *testing.T) {
	f := newFixture(t)
	f.start(t, alice)

	seed(t, f, bob, "s-bob", time.Now().UnixMilli())
	if _, err := f.eng.AddStatus(context.Background(), model.TextStatus, "mine", "", nil); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "bob's status in recent", func() bool { return len(f.eng.Recent()) == 1 })
	if len(f.eng.Mine()) != 1 {
		t.Errorf("mine = %d, want 1", len(f.eng.Mine()))
	}
	if len(f.eng.Viewed()) != 0 {
		t.Errorf("viewed = %d, want 0", len(f.eng.Viewed()))
	}

	if err := f.eng.MarkViewed(context.Background(), "s-bob"); err != nil {
		t.Fatal(err)
	}
	if len(f.eng.Recent()) != 0 || len(f.eng.Viewed()) != 1 {
		t.Errorf("recent = %d, viewed = %d; want 0 and 1", len(f.eng.Recent()), len(f.eng.Viewed()))
	}

	// Idempotent: the viewer set is a set.
	if err := f.eng.MarkViewed(context.Background(), "s-bob"); err != nil {
		t.Fatal(err)
	}
	s, _ := f.store.GetStatus(context.Background(), "s-bob")
	if len(s.ViewedBy) != 1 || s.ViewedBy[0] != alice.ID {
		t.Errorf("viewed_by = %v, want exactly [alice]", s.ViewedBy)
	}
}

func TestMarkViewedOwnStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	f.start(t, alice)

	id, err := f.eng.AddStatus(context.Background(), model.TextStatus, "mine", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.eng.MarkViewed(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	s, _ := f.store.GetStatus(context.Background(), id)
	if len(s.ViewedBy) != 0 {
		t.Errorf("viewed_by = %v, own view should not count", s.ViewedBy)
	}
	if len(f.eng.Mine()) != 1 {
		t.Error("own status left the mine partition")
	}
}

func TestMarkViewedMissing(t *testing.T) {
	f := newFixture(t)
	f.start(t, alice)
	if err := f.eng.MarkViewed(context.Background(), "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteStatusOwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.start(t, alice)

	seed(t, f, bob, "s-bob", time.Now().UnixMilli())
	if err := f.eng.DeleteStatus(context.Background(), "s-bob"); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("deleting bob's status: err = %v, want ErrForbidden", err)
	}

	id, err := f.eng.AddStatus(context.Background(), model.ImageStatus, "", "", &MediaUpload{
		FileName: "x.jpg", ContentType: "image/jpeg", Data: []byte("pixels"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.eng.DeleteStatus(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if len(f.eng.Mine()) != 0 {
		t.Error("deleted status still in mine")
	}
	if f.blobs.Len() != 0 {
		t.Error("media blob not removed with the status")
	}
	s, _ := f.store.GetStatus(context.Background(), id)
	if s != nil {
		t.Error("status still in store")
	}
}

func TestExpiredStatusesFiltered(t *testing.T) {
	f := newFixture(t)
	f.start(t, alice)

	if _, err := f.eng.AddStatus(context.Background(), model.TextStatus, "soon gone", "", nil); err != nil {
		t.Fatal(err)
	}
	if len(f.eng.Mine()) != 1 {
		t.Fatal("status missing before expiry")
	}

	f.eng.now = func() time.Time { return time.Now().Add(model.StatusTTL + time.Minute) }
	if len(f.eng.Mine()) != 0 {
		t.Error("expired status still visible")
	}
}

func TestViewersOwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.start(t, alice)
	ctx := context.Background()

	id, err := f.eng.AddStatus(ctx, model.TextStatus, "mine", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.AddStatusViewer(ctx, id, bob.ID); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "viewer to arrive", func() bool {
		viewers, err := f.eng.Viewers(ctx, id)
		return err == nil && len(viewers) == 1 && viewers[0] == bob.ID
	})

	seed(t, f, bob, "s-bob", time.Now().UnixMilli())
	if _, err := f.eng.Viewers(ctx, "s-bob"); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("viewers of bob's status: err = %v, want ErrForbidden", err)
	}
}
