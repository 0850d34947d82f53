// Package broadcast is the status broadcast engine: ephemeral 24-hour
// statuses with per-status viewer sets. It mirrors the chat sync engine's
// shape, with one projection folded from the statuses change feed.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parley-im/parley/internal/bus"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/realtime"
)

// MediaUpload is an attachment handed to AddStatus before upload.
type MediaUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Engine folds the statuses feed into a local projection and executes the
// status operations for one signed-in user.
type Engine struct {
	store  realtime.Store
	blobs  realtime.Blobs
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	started  bool
	self     model.User
	statuses []model.Status

	cancel context.CancelFunc
}

// New creates a broadcast engine. It does nothing until Start is called.
func New(store realtime.Store, blobs realtime.Blobs, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		blobs:  blobs,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// Start subscribes to statuses posted within the visibility window and folds
// the feed. Anything older than 24h never enters the projection.
func (e *Engine) Start(ctx context.Context, self model.User) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("broadcast engine already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.self = self
	e.started = true
	e.mu.Unlock()

	since := e.now().Add(-model.StatusTTL).UnixMilli()
	ch, unsub, err := e.store.SubscribeStatuses(ctx, since)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe statuses: %w", err)
	}

	go func() {
		defer unsub()
		for {
			select {
			case sc, ok := <-ch:
				if !ok {
					return
				}
				e.apply(sc)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop tears down the subscription.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.started = false
}

func (e *Engine) apply(sc realtime.StatusChange) {
	e.mu.Lock()
	e.statuses = foldStatuses(e.statuses, sc)
	e.mu.Unlock()

	switch sc.Kind {
	case realtime.Removed:
		e.bus.Emit(bus.StatusDeleted, sc.Status.ID)
	case realtime.Modified:
		e.bus.Emit(bus.StatusViewed, sc.Status)
	default:
		e.bus.Emit(bus.StatusPosted, sc.Status)
	}
}

func foldStatuses(statuses []model.Status, sc realtime.StatusChange) []model.Status {
	out := make([]model.Status, 0, len(statuses)+1)
	found := false
	for _, s := range statuses {
		if s.ID == sc.Status.ID {
			found = true
			if sc.Kind == realtime.Removed {
				continue
			}
			out = append(out, sc.Status)
			continue
		}
		out = append(out, s)
	}
	if !found && sc.Kind != realtime.Removed {
		out = append(out, sc.Status)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddStatus uploads any media and posts a new status with the author's name
// and avatar denormalized onto it. Returns the status id.
func (e *Engine) AddStatus(ctx context.Context, typ model.StatusType, caption, backgroundColor string, media *MediaUpload) (string, error) {
	e.mu.RLock()
	started, self := e.started, e.self
	e.mu.RUnlock()
	if !started {
		return "", model.ErrAuthRequired
	}

	switch typ {
	case model.TextStatus:
		if strings.TrimSpace(caption) == "" {
			return "", fmt.Errorf("text status needs a caption: %w", model.ErrValidation)
		}
	case model.ImageStatus, model.VideoStatus:
		if media == nil {
			return "", fmt.Errorf("%s status needs media: %w", typ, model.ErrValidation)
		}
	default:
		return "", fmt.Errorf("status type %q: %w", typ, model.ErrValidation)
	}

	nowMs := e.now().UnixMilli()
	s := model.Status{
		ID:              model.NewStatusID(),
		UserID:          self.ID,
		UserName:        self.Name,
		UserAvatar:      self.Avatar,
		Caption:         caption,
		Type:            typ,
		BackgroundColor: backgroundColor,
		CreatedAt:       nowMs,
		ViewedBy:        []string{},
	}
	if media != nil {
		key := fmt.Sprintf("statuses/%s/%d_%s", self.ID, nowMs, media.FileName)
		url, err := e.blobs.Upload(ctx, key, media.ContentType, media.Data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrUploadFailed, err)
		}
		s.MediaURL = url
		s.MediaKey = key
	}

	if err := e.store.PutStatus(ctx, s); err != nil {
		return "", fmt.Errorf("%w: put status: %v", model.ErrWriteFailed, err)
	}

	e.mu.Lock()
	e.statuses = foldStatuses(e.statuses, realtime.StatusChange{Kind: realtime.Added, Status: s})
	e.mu.Unlock()

	e.bus.Emit(bus.StatusPosted, s)
	return s.ID, nil
}

// MarkViewed records that the signed-in user has seen a status. Viewing your
// own status is a no-op; the viewer set only counts other people.
func (e *Engine) MarkViewed(ctx context.Context, statusID string) error {
	e.mu.RLock()
	started, self := e.started, e.self
	e.mu.RUnlock()
	if !started {
		return model.ErrAuthRequired
	}

	s, err := e.lookup(ctx, statusID)
	if err != nil {
		return err
	}
	if s.UserID == self.ID {
		return nil
	}
	if s.ViewedByUser(self.ID) {
		return nil
	}

	if err := e.store.AddStatusViewer(ctx, statusID, self.ID); err != nil {
		return fmt.Errorf("%w: add viewer: %v", model.ErrWriteFailed, err)
	}

	e.mu.Lock()
	for i, st := range e.statuses {
		if st.ID == statusID && !st.ViewedByUser(self.ID) {
			st.ViewedBy = append(append([]string(nil), st.ViewedBy...), self.ID)
			e.statuses[i] = st
			break
		}
	}
	e.mu.Unlock()

	e.bus.Emit(bus.StatusViewed, statusID)
	return nil
}

// DeleteStatus removes one of the user's own statuses along with its media.
// Deleting someone else's status is forbidden.
func (e *Engine) DeleteStatus(ctx context.Context, statusID string) error {
	e.mu.RLock()
	started, self := e.started, e.self
	e.mu.RUnlock()
	if !started {
		return model.ErrAuthRequired
	}

	s, err := e.lookup(ctx, statusID)
	if err != nil {
		return err
	}
	if s.UserID != self.ID {
		return fmt.Errorf("status %s belongs to %s: %w", statusID, s.UserID, model.ErrForbidden)
	}

	// Orphaned media is tolerable; a dangling status document is not.
	if s.MediaKey != "" {
		if err := e.blobs.Remove(ctx, s.MediaKey); err != nil {
			e.logger.Warn("status media removal failed", zap.String("key", s.MediaKey), zap.Error(err))
		}
	}
	if err := e.store.DeleteStatus(ctx, statusID); err != nil {
		return fmt.Errorf("%w: delete status: %v", model.ErrWriteFailed, err)
	}

	e.mu.Lock()
	e.statuses = foldStatuses(e.statuses, realtime.StatusChange{Kind: realtime.Removed, Status: *s})
	e.mu.Unlock()

	e.bus.Emit(bus.StatusDeleted, statusID)
	return nil
}

// Mine returns the user's own unexpired statuses, newest first.
func (e *Engine) Mine() []model.Status {
	return e.filter(func(s model.Status, selfID string) bool {
		return s.UserID == selfID
	})
}

// Recent returns other people's unexpired statuses the user has not seen yet.
func (e *Engine) Recent() []model.Status {
	return e.filter(func(s model.Status, selfID string) bool {
		return s.UserID != selfID && !s.ViewedByUser(selfID)
	})
}

// Viewed returns other people's unexpired statuses the user has already seen.
func (e *Engine) Viewed() []model.Status {
	return e.filter(func(s model.Status, selfID string) bool {
		return s.UserID != selfID && s.ViewedByUser(selfID)
	})
}

func (e *Engine) filter(keep func(s model.Status, selfID string) bool) []model.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	nowMs := e.now().UnixMilli()
	var out []model.Status
	for _, s := range e.statuses {
		if s.Expired(nowMs) {
			continue
		}
		if keep(s, e.self.ID) {
			out = append(out, s)
		}
	}
	return out
}

// Viewers returns who has seen one of the user's own statuses. Only the
// owner may ask.
func (e *Engine) Viewers(ctx context.Context, statusID string) ([]string, error) {
	e.mu.RLock()
	started, self := e.started, e.self
	e.mu.RUnlock()
	if !started {
		return nil, model.ErrAuthRequired
	}

	s, err := e.lookup(ctx, statusID)
	if err != nil {
		return nil, err
	}
	if s.UserID != self.ID {
		return nil, fmt.Errorf("status %s belongs to %s: %w", statusID, s.UserID, model.ErrForbidden)
	}
	return append([]string(nil), s.ViewedBy...), nil
}

// lookup resolves a status from the local projection, falling back to the
// store for statuses posted before this engine started.
func (e *Engine) lookup(ctx context.Context, statusID string) (*model.Status, error) {
	e.mu.RLock()
	for _, s := range e.statuses {
		if s.ID == statusID {
			s := s
			e.mu.RUnlock()
			return &s, nil
		}
	}
	e.mu.RUnlock()

	s, err := e.store.GetStatus(ctx, statusID)
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", statusID, err)
	}
	if s == nil {
		return nil, fmt.Errorf("status %s: %w", statusID, model.ErrNotFound)
	}
	return s, nil
}
