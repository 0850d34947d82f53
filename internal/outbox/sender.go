// Package outbox drains queued sends into the remote store. Sends survive
// restarts because the queue lives in the sqlite cache, not in memory.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/parley-im/parley/internal/bus"
	"github.com/parley-im/parley/internal/cache"
	"github.com/parley-im/parley/internal/delivery"
	"github.com/parley-im/parley/internal/metrics"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/realtime"
)

// Sender polls the outbox and publishes pending messages to the store. A
// successful publish writes the message document and bumps the chat's
// last-message snapshot plus every other participant's unread counter.
type Sender struct {
	db     *cache.DB
	store  realtime.Store
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *cache.DB, store realtime.Store, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		store:  store,
		bus:    b,
		logger: logger,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}
		if err := s.publish(ctx, entry); err != nil {
			s.logger.Error("failed to publish message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			s.fail(entry, err)
			continue
		}
		s.ack(entry)
	}
}

// publish writes the message to the store and bumps the chat. Failed entries
// stay in the outbox with failed status until the user retries; there is no
// silent retry here.
func (s *Sender) publish(ctx context.Context, entry cache.OutboxEntry) error {
	chat, err := s.store.GetChat(ctx, entry.ChatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return model.ErrNotFound
	}

	now := time.Now().UnixMilli()
	msg := model.Message{
		ID:        entry.ClientMsgID,
		ChatID:    entry.ChatID,
		SenderID:  entry.SenderID,
		Body:      entry.Body,
		Type:      entry.MessageType,
		Status:    delivery.Sent,
		Timestamp: now,
		Media:     entry.Media,
	}
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return err
	}

	var unreadFor []string
	for _, p := range chat.Participants {
		if p != entry.SenderID {
			unreadFor = append(unreadFor, p)
		}
	}
	snippet := entry.Body
	if snippet == "" && entry.Media != nil {
		snippet = entry.Media.FileName
	}
	return s.store.BumpChat(ctx, entry.ChatID, snippet, entry.SenderID, now, unreadFor)
}

func (s *Sender) ack(entry cache.OutboxEntry) {
	if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	_ = s.db.UpsertMessage(&model.Message{
		ID: entry.ClientMsgID, ChatID: entry.ChatID, SenderID: entry.SenderID,
		Body: entry.Body, Type: entry.MessageType, Media: entry.Media,
		Status: delivery.Sent, Timestamp: time.Now().UnixMilli(),
	})

	metrics.MessagesSent.Inc()
	s.logger.Info("message published", zap.String("client_msg_id", entry.ClientMsgID), zap.String("chat_id", entry.ChatID))
	s.bus.Emit(bus.MessageSendAck, map[string]string{
		"client_msg_id": entry.ClientMsgID,
		"chat_id":       entry.ChatID,
	})
}

func (s *Sender) fail(entry cache.OutboxEntry, cause error) {
	_ = s.db.MarkOutboxFailed(entry.ClientMsgID, cause.Error())
	_ = s.db.UpsertMessage(&model.Message{
		ID: entry.ClientMsgID, ChatID: entry.ChatID, SenderID: entry.SenderID,
		Body: entry.Body, Type: entry.MessageType, Media: entry.Media,
		Status: delivery.Failed, Timestamp: time.Now().UnixMilli(),
	})

	metrics.SendFailures.Inc()
	s.bus.Emit(bus.MessageSendFailed, map[string]string{
		"client_msg_id": entry.ClientMsgID,
		"chat_id":       entry.ChatID,
		"error":         cause.Error(),
	})
}
