// Package engine is the chat sync engine. It folds change feeds from the
// realtime store into local projections (chat list, contact list, the active
// chat's messages), serves the user-facing operations, and keeps the sqlite
// cache warm so reads survive a cold start offline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parley-im/parley/internal/bus"
	"github.com/parley-im/parley/internal/cache"
	"github.com/parley-im/parley/internal/delivery"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/presence"
	"github.com/parley-im/parley/internal/realtime"
)

// MediaUpload is an attachment handed to SendMessage before upload.
type MediaUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Engine reconciles the realtime store with local projections and executes
// chat operations. One engine serves one signed-in user.
type Engine struct {
	store  realtime.Store
	blobs  realtime.Blobs
	cache  *cache.DB
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	typing *presence.Tracker

	mu        sync.RWMutex
	started   bool
	runCtx    context.Context
	self      model.User
	chats     []model.Chat
	contacts  []model.Contact
	active    *activeChat
	activeGen int

	cancel context.CancelFunc
}

type activeChat struct {
	id       string
	gen      int
	messages []model.Message
	unsub    func()
}

// New creates an engine. It does nothing until Start is called with the
// signed-in user.
func New(store realtime.Store, blobs realtime.Blobs, db *cache.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		blobs:  blobs,
		cache:  db,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
	e.typing = presence.NewTracker(presence.DefaultTTL, func(chatID string) {
		b.Emit(bus.TypingStopped, chatID)
	})
	return e
}

// Start subscribes to the user's chats and the contact directory and begins
// folding changes. It returns once the subscriptions are established; the
// snapshot replay drains asynchronously.
func (e *Engine) Start(ctx context.Context, self model.User) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.runCtx = ctx
	e.self = self
	e.started = true
	e.mu.Unlock()

	chatCh, unsubChats, err := e.store.SubscribeChats(ctx, self.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe chats: %w", err)
	}
	userCh, unsubUsers, err := e.store.SubscribeUsers(ctx)
	if err != nil {
		unsubChats()
		cancel()
		return fmt.Errorf("subscribe users: %w", err)
	}

	e.typing.Start(ctx)
	e.logger.Info("engine started", zap.String("user_id", self.ID))

	go func() {
		defer unsubChats()
		defer unsubUsers()
		for {
			select {
			case ch, ok := <-chatCh:
				if !ok {
					return
				}
				e.applyChat(ch)
			case ch, ok := <-userCh:
				if !ok {
					return
				}
				e.applyUser(ch)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop tears down subscriptions and clears the active chat.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.active != nil {
		e.active.unsub()
		e.active = nil
	}
	e.typing.Stop()
	e.started = false
}

func (e *Engine) applyChat(ch realtime.ChatChange) {
	e.mu.Lock()
	e.chats = foldChats(e.chats, ch)
	e.mu.Unlock()

	if ch.Kind != realtime.Removed {
		c := ch.Chat
		if err := e.cache.UpsertChat(&c); err != nil {
			e.logger.Warn("cache chat write failed", zap.String("chat_id", c.ID), zap.Error(err))
		}
		if err := e.cache.SetCheckpoint("chats.last_synced", strconv.FormatInt(c.UpdatedAt, 10)); err != nil {
			e.logger.Warn("checkpoint write failed", zap.Error(err))
		}
	}
	e.bus.Emit(bus.ChatUpserted, ch.Chat)
}

func (e *Engine) applyUser(ch realtime.UserChange) {
	e.mu.Lock()
	if ch.User.ID == e.self.ID {
		if ch.Kind != realtime.Removed {
			e.self = ch.User
		}
		e.mu.Unlock()
		return
	}
	e.contacts = foldContacts(e.contacts, ch)
	e.mu.Unlock()

	if ch.Kind != realtime.Removed {
		contact := model.ContactFromUser(ch.User)
		if err := e.cache.UpsertContact(&contact); err != nil {
			e.logger.Warn("cache contact write failed", zap.String("user_id", contact.ID), zap.Error(err))
		}
		e.bus.Emit(bus.ContactUpserted, contact)
	}
}

// CreateOrGetChat resolves the one-to-one chat with another user, creating it
// if it does not exist. Both sides derive the same chat id from the sorted
// participant pair, so concurrent calls from either side converge on one chat
// document. Returns the chat id.
func (e *Engine) CreateOrGetChat(ctx context.Context, otherID string) (string, error) {
	e.mu.RLock()
	started, self := e.started, e.self
	e.mu.RUnlock()
	if !started {
		return "", model.ErrAuthRequired
	}
	if otherID == "" || otherID == self.ID {
		return "", fmt.Errorf("chat peer %q: %w", otherID, model.ErrValidation)
	}

	id := model.PairChatID(self.ID, otherID)
	nowMs := e.now().UnixMilli()
	c := model.Chat{
		ID:           id,
		Kind:         model.Individual,
		Participants: []string{self.ID, otherID},
		UnreadCounts: map[string]int{},
		CreatedAt:    nowMs,
		UpdatedAt:    nowMs,
	}
	if err := e.store.EnsureChat(ctx, c); err != nil {
		return "", fmt.Errorf("%w: ensure chat: %v", model.ErrWriteFailed, err)
	}

	// Optimistic local insert; the store change event reconciles the rest.
	e.mu.Lock()
	if e.chatIndex(id) < 0 {
		e.chats = foldChats(e.chats, realtime.ChatChange{Kind: realtime.Added, Chat: c})
	}
	e.mu.Unlock()
	return id, nil
}

// SendMessage uploads any attachment, inserts the message optimistically with
// sending status, and queues it on the outbox. Returns the client message id.
func (e *Engine) SendMessage(ctx context.Context, chatID, body string, typ model.MessageType, media *MediaUpload) (string, error) {
	e.mu.RLock()
	started, self := e.started, e.self
	e.mu.RUnlock()
	if !started {
		return "", model.ErrAuthRequired
	}
	if typ == "" {
		typ = model.TextMessage
	}
	if !model.KnownMessageType(typ) {
		return "", fmt.Errorf("message type %q: %w", typ, model.ErrValidation)
	}
	if strings.TrimSpace(body) == "" && media == nil {
		return "", fmt.Errorf("empty message: %w", model.ErrValidation)
	}
	if err := e.requireChat(ctx, chatID); err != nil {
		return "", err
	}

	nowMs := e.now().UnixMilli()
	var ref *model.MediaRef
	if media != nil {
		key := fmt.Sprintf("chats/%s/%d_%s", chatID, nowMs, media.FileName)
		url, err := e.blobs.Upload(ctx, key, media.ContentType, media.Data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrUploadFailed, err)
		}
		ref = &model.MediaRef{URL: url, Key: key, FileName: media.FileName, FileSize: int64(len(media.Data))}
	}

	msg := model.Message{
		ID:        model.NewMessageID(),
		ChatID:    chatID,
		SenderID:  self.ID,
		Body:      body,
		Type:      typ,
		Status:    delivery.Sending,
		Timestamp: nowMs,
		Media:     ref,
	}

	e.mu.Lock()
	if e.active != nil && e.active.id == chatID {
		e.active.messages = foldMessages(e.active.messages, realtime.MessageChange{Kind: realtime.Added, ChatID: chatID, Message: msg})
	}
	e.chats = bumpLocalChat(e.chats, chatID, body, self.ID, nowMs)
	e.mu.Unlock()

	if err := e.cache.UpsertMessage(&msg); err != nil {
		e.logger.Warn("cache message write failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	if err := e.cache.QueueOutbox(&cache.OutboxEntry{
		ClientMsgID: msg.ID,
		ChatID:      chatID,
		SenderID:    self.ID,
		Body:        body,
		MessageType: typ,
		Media:       ref,
	}); err != nil {
		return "", fmt.Errorf("queue message: %w", err)
	}

	e.bus.Emit(bus.MessageQueued, msg)
	return msg.ID, nil
}

// RetrySend requeues a failed message for another send attempt. Only failed
// entries can be retried.
func (e *Engine) RetrySend(clientMsgID string) error {
	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()
	if !started {
		return model.ErrAuthRequired
	}

	n, err := e.cache.RequeueOutbox(clientMsgID)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", clientMsgID, err)
	}
	if n == 0 {
		return fmt.Errorf("failed message %s: %w", clientMsgID, model.ErrNotFound)
	}

	e.mu.Lock()
	if e.active != nil {
		for i, m := range e.active.messages {
			if m.ID == clientMsgID {
				m.Status = delivery.Sending
				e.active.messages[i] = m
				break
			}
		}
	}
	e.mu.Unlock()

	// Cached row follows the projection back to sending so message lists
	// don't contradict the active view while the resend is in flight.
	if entry, err := e.cache.GetOutbox(clientMsgID); err == nil && entry != nil {
		m := model.Message{
			ID: entry.ClientMsgID, ChatID: entry.ChatID, SenderID: entry.SenderID,
			Body: entry.Body, Type: entry.MessageType, Media: entry.Media,
			Status: delivery.Sending, Timestamp: entry.CreatedAt,
		}
		if err := e.cache.UpsertMessage(&m); err != nil {
			e.logger.Warn("cache message write failed", zap.String("msg_id", m.ID), zap.Error(err))
		}
	}

	e.bus.Emit(bus.MessageQueued, clientMsgID)
	return nil
}

// MarkAsRead zeroes the user's unread counter on the chat and sends read
// receipts for the cached peer messages that have not been read yet.
func (e *Engine) MarkAsRead(ctx context.Context, chatID string) error {
	e.mu.RLock()
	started, self := e.started, e.self
	e.mu.RUnlock()
	if !started {
		return model.ErrAuthRequired
	}
	if err := e.requireChat(ctx, chatID); err != nil {
		return err
	}

	if err := e.store.ResetUnread(ctx, chatID, self.ID); err != nil {
		return fmt.Errorf("%w: reset unread: %v", model.ErrWriteFailed, err)
	}

	e.mu.Lock()
	if i := e.chatIndex(chatID); i >= 0 {
		c := e.chats[i]
		counts := make(map[string]int, len(c.UnreadCounts))
		for k, v := range c.UnreadCounts {
			counts[k] = v
		}
		counts[self.ID] = 0
		c.UnreadCounts = counts
		e.chats[i] = c
	}
	e.mu.Unlock()

	msgs, err := e.cache.ListMessages(chatID, 0, 200)
	if err != nil {
		e.logger.Warn("cache read for receipts failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	for _, m := range msgs {
		if m.SenderID == self.ID || m.Status == delivery.Read {
			continue
		}
		if err := e.store.SetMessageStatus(ctx, chatID, m.ID, delivery.Read); err != nil {
			e.logger.Warn("read receipt failed", zap.String("msg_id", m.ID), zap.Error(err))
		}
	}

	e.bus.Emit(bus.ChatRead, chatID)
	return nil
}

// SetActiveChat switches the message subscription to the given chat. An empty
// chat id just tears down the current one. Incoming peer messages on the
// active chat are acknowledged as delivered.
func (e *Engine) SetActiveChat(ctx context.Context, chatID string) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return model.ErrAuthRequired
	}
	// The subscription must outlive the caller's context (an HTTP request),
	// so it is scoped to the engine's run context instead.
	runCtx := e.runCtx
	if e.active != nil {
		e.active.unsub()
		e.typing.Clear(e.active.id)
		e.active = nil
	}
	e.mu.Unlock()

	if chatID == "" {
		return nil
	}
	if err := e.requireChat(ctx, chatID); err != nil {
		return err
	}

	msgCh, unsub, err := e.store.SubscribeMessages(runCtx, chatID)
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}

	e.mu.Lock()
	e.activeGen++
	gen := e.activeGen
	e.active = &activeChat{id: chatID, gen: gen, unsub: unsub}
	e.mu.Unlock()

	go func() {
		for {
			select {
			case ch, ok := <-msgCh:
				if !ok {
					return
				}
				promote, live := e.applyActiveMessage(gen, ch)
				if !live {
					return
				}
				if promote != "" {
					if err := e.store.SetMessageStatus(runCtx, chatID, promote, delivery.Delivered); err != nil {
						e.logger.Warn("delivered ack failed", zap.String("msg_id", promote), zap.Error(err))
					}
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

// applyActiveMessage folds one change into the active projection. It returns
// the id of a peer message that should be acknowledged as delivered (empty if
// none) and whether this subscription generation is still current.
func (e *Engine) applyActiveMessage(gen int, ch realtime.MessageChange) (promote string, live bool) {
	e.mu.Lock()
	if e.active == nil || e.active.gen != gen {
		e.mu.Unlock()
		return "", false
	}
	e.active.messages = foldMessages(e.active.messages, ch)
	selfID := e.self.ID
	e.mu.Unlock()

	if ch.Kind != realtime.Removed {
		m := ch.Message
		if err := e.cache.UpsertMessage(&m); err != nil {
			e.logger.Warn("cache message write failed", zap.String("msg_id", m.ID), zap.Error(err))
		}
		if m.SenderID != selfID && m.Status == delivery.Sent {
			promote = m.ID
		}
	}
	e.bus.Emit(bus.MessageUpserted, ch.Message)
	return promote, true
}

// SetTyping turns the typing indicator for a chat on or off. On refreshes the
// TTL; the indicator also expires on its own without an explicit off.
func (e *Engine) SetTyping(chatID string, on bool) {
	if on {
		e.typing.Heartbeat(chatID)
		e.bus.Emit(bus.TypingStarted, chatID)
		return
	}
	if e.typing.Clear(chatID) {
		e.bus.Emit(bus.TypingStopped, chatID)
	}
}

// Typing reports whether the typing indicator is lit for a chat.
func (e *Engine) Typing(chatID string) bool {
	return e.typing.Typing(chatID)
}

// Self returns the signed-in user's profile.
func (e *Engine) Self() model.User {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.self
}

// Chats returns the chat list, most recently updated first.
func (e *Engine) Chats() []model.Chat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Chat, len(e.chats))
	copy(out, e.chats)
	return out
}

// Contacts returns the contact directory sorted by name.
func (e *Engine) Contacts() []model.Contact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Contact, len(e.contacts))
	copy(out, e.contacts)
	return out
}

// ActiveChatID returns the id of the active chat, or "".
func (e *Engine) ActiveChatID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return ""
	}
	return e.active.id
}

// ActiveMessages returns the active chat's messages in timestamp order.
func (e *Engine) ActiveMessages() []model.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return nil
	}
	out := make([]model.Message, len(e.active.messages))
	copy(out, e.active.messages)
	return out
}

// requireChat verifies the chat exists locally or in the store.
func (e *Engine) requireChat(ctx context.Context, chatID string) error {
	e.mu.RLock()
	i := e.chatIndex(chatID)
	e.mu.RUnlock()
	if i >= 0 {
		return nil
	}
	c, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("get chat %s: %w", chatID, err)
	}
	if c == nil {
		return fmt.Errorf("chat %s: %w", chatID, model.ErrNotFound)
	}
	return nil
}

// chatIndex must be called with the mutex held.
func (e *Engine) chatIndex(chatID string) int {
	for i, c := range e.chats {
		if c.ID == chatID {
			return i
		}
	}
	return -1
}
