package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-im/parley/internal/delivery"
	"github.com/parley-im/parley/internal/model"
)

// subBuffer is the extra channel headroom beyond the replayed snapshot.
const subBuffer = 256

// Memory is an in-memory Store used by tests and the "memory" backend.
// Change fan-out is non-blocking, mirroring how the production backends
// behave when a consumer falls behind.
type Memory struct {
	mu       sync.Mutex
	users    map[string]model.User
	chats    map[string]model.Chat
	messages map[string]map[string]model.Message
	statuses map[string]model.Status

	nextSub    int
	userSubs   map[int]chan UserChange
	chatSubs   map[int]chatSub
	msgSubs    map[int]msgSub
	statusSubs map[int]statusSub
}

type chatSub struct {
	participant string
	ch          chan ChatChange
}

type msgSub struct {
	chatID string
	ch     chan MessageChange
}

type statusSub struct {
	sinceMs int64
	ch      chan StatusChange
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]model.User),
		chats:      make(map[string]model.Chat),
		messages:   make(map[string]map[string]model.Message),
		statuses:   make(map[string]model.Status),
		userSubs:   make(map[int]chan UserChange),
		chatSubs:   make(map[int]chatSub),
		msgSubs:    make(map[int]msgSub),
		statusSubs: make(map[int]statusSub),
	}
}

func (m *Memory) SubscribeUsers(_ context.Context) (<-chan UserChange, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan UserChange, len(m.users)+subBuffer)
	for _, u := range m.users {
		ch <- UserChange{Kind: Added, User: u}
	}
	id := m.nextSub
	m.nextSub++
	m.userSubs[id] = ch

	return ch, func() {
		m.mu.Lock()
		delete(m.userSubs, id)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) SubscribeChats(_ context.Context, participantID string) (<-chan ChatChange, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan ChatChange, len(m.chats)+subBuffer)
	for _, c := range m.chats {
		if c.HasParticipant(participantID) {
			ch <- ChatChange{Kind: Added, Chat: c}
		}
	}
	id := m.nextSub
	m.nextSub++
	m.chatSubs[id] = chatSub{participant: participantID, ch: ch}

	return ch, func() {
		m.mu.Lock()
		delete(m.chatSubs, id)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) SubscribeMessages(_ context.Context, chatID string) (<-chan MessageChange, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan MessageChange, len(m.messages[chatID])+subBuffer)
	for _, msg := range m.messages[chatID] {
		ch <- MessageChange{Kind: Added, ChatID: chatID, Message: msg}
	}
	id := m.nextSub
	m.nextSub++
	m.msgSubs[id] = msgSub{chatID: chatID, ch: ch}

	return ch, func() {
		m.mu.Lock()
		delete(m.msgSubs, id)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) SubscribeStatuses(_ context.Context, sinceMs int64) (<-chan StatusChange, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan StatusChange, len(m.statuses)+subBuffer)
	for _, s := range m.statuses {
		if s.CreatedAt >= sinceMs {
			ch <- StatusChange{Kind: Added, Status: s}
		}
	}
	id := m.nextSub
	m.nextSub++
	m.statusSubs[id] = statusSub{sinceMs: sinceMs, ch: ch}

	return ch, func() {
		m.mu.Lock()
		delete(m.statusSubs, id)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) UpsertUser(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := Added
	if _, ok := m.users[u.ID]; ok {
		kind = Modified
	}
	m.users[u.ID] = u
	m.emitUser(UserChange{Kind: kind, User: u})
	return nil
}

func (m *Memory) GetUserByPhone(_ context.Context, phone string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == phone {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *Memory) EnsureChat(_ context.Context, c model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[c.ID]; ok {
		return nil
	}
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int, len(c.Participants))
	}
	m.chats[c.ID] = c
	m.emitChat(ChatChange{Kind: Added, Chat: c})
	return nil
}

func (m *Memory) GetChat(_ context.Context, id string) (*model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chats[id]; ok {
		c := cloneChat(c)
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) BumpChat(_ context.Context, chatID, lastBody, lastSender string, atMs int64, unreadFor []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return fmt.Errorf("bump chat %s: %w", chatID, model.ErrNotFound)
	}
	c = cloneChat(c)
	c.LastMessageBody = lastBody
	c.LastMessageSender = lastSender
	c.LastMessageAt = atMs
	c.UpdatedAt = atMs
	for _, id := range unreadFor {
		c.UnreadCounts[id]++
	}
	m.chats[chatID] = c
	m.emitChat(ChatChange{Kind: Modified, Chat: c})
	return nil
}

func (m *Memory) ResetUnread(_ context.Context, chatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return fmt.Errorf("reset unread %s: %w", chatID, model.ErrNotFound)
	}
	c = cloneChat(c)
	c.UnreadCounts[userID] = 0
	m.chats[chatID] = c
	m.emitChat(ChatChange{Kind: Modified, Chat: c})
	return nil
}

func (m *Memory) PutMessage(_ context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.messages[msg.ChatID]
	if !ok {
		byID = make(map[string]model.Message)
		m.messages[msg.ChatID] = byID
	}
	kind := Added
	if _, exists := byID[msg.ID]; exists {
		kind = Modified
	}
	byID[msg.ID] = msg
	m.emitMessage(MessageChange{Kind: kind, ChatID: msg.ChatID, Message: msg})
	return nil
}

func (m *Memory) SetMessageStatus(_ context.Context, chatID, msgID string, st delivery.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[chatID][msgID]
	if !ok {
		return fmt.Errorf("message %s/%s: %w", chatID, msgID, model.ErrNotFound)
	}
	merged := delivery.Merge(msg.Status, st)
	if merged == msg.Status {
		return nil
	}
	msg.Status = merged
	m.messages[chatID][msgID] = msg
	m.emitMessage(MessageChange{Kind: Modified, ChatID: chatID, Message: msg})
	return nil
}

func (m *Memory) PutStatus(_ context.Context, s model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ViewedBy == nil {
		s.ViewedBy = []string{}
	}
	m.statuses[s.ID] = s
	m.emitStatus(StatusChange{Kind: Added, Status: s})
	return nil
}

func (m *Memory) GetStatus(_ context.Context, id string) (*model.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.statuses[id]; ok {
		s := cloneStatus(s)
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) AddStatusViewer(_ context.Context, statusID, viewerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[statusID]
	if !ok {
		return fmt.Errorf("status %s: %w", statusID, model.ErrNotFound)
	}
	if s.ViewedByUser(viewerID) {
		return nil
	}
	s = cloneStatus(s)
	s.ViewedBy = append(s.ViewedBy, viewerID)
	m.statuses[statusID] = s
	m.emitStatus(StatusChange{Kind: Modified, Status: s})
	return nil
}

func (m *Memory) DeleteStatus(_ context.Context, statusID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[statusID]
	if !ok {
		return fmt.Errorf("status %s: %w", statusID, model.ErrNotFound)
	}
	delete(m.statuses, statusID)
	m.emitStatus(StatusChange{Kind: Removed, Status: s})
	return nil
}

// emit helpers run with the store lock held; sends are non-blocking.

func (m *Memory) emitUser(ch UserChange) {
	for _, c := range m.userSubs {
		select {
		case c <- ch:
		default:
		}
	}
}

func (m *Memory) emitChat(ch ChatChange) {
	for _, s := range m.chatSubs {
		if !ch.Chat.HasParticipant(s.participant) {
			continue
		}
		select {
		case s.ch <- ch:
		default:
		}
	}
}

func (m *Memory) emitMessage(ch MessageChange) {
	for _, s := range m.msgSubs {
		if s.chatID != ch.ChatID {
			continue
		}
		select {
		case s.ch <- ch:
		default:
		}
	}
}

func (m *Memory) emitStatus(ch StatusChange) {
	for _, s := range m.statusSubs {
		if ch.Status.CreatedAt < s.sinceMs {
			continue
		}
		select {
		case s.ch <- ch:
		default:
		}
	}
}

func cloneChat(c model.Chat) model.Chat {
	counts := make(map[string]int, len(c.UnreadCounts))
	for k, v := range c.UnreadCounts {
		counts[k] = v
	}
	c.UnreadCounts = counts
	c.Participants = append([]string(nil), c.Participants...)
	return c
}

func cloneStatus(s model.Status) model.Status {
	s.ViewedBy = append([]string(nil), s.ViewedBy...)
	return s
}

// MemoryBlobs is an in-memory Blobs used by tests and the "memory" backend.
type MemoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryBlobs creates an empty in-memory blob store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte)}
}

func (b *MemoryBlobs) Upload(_ context.Context, key, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

func (b *MemoryBlobs) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[key]; !ok {
		return fmt.Errorf("blob %s: %w", key, model.ErrNotFound)
	}
	delete(b.blobs, key)
	return nil
}

// Len reports how many blobs are stored. Test helper.
func (b *MemoryBlobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}
