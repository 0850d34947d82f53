package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parley-im/parley/internal/delivery"
	"github.com/parley-im/parley/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Mongo implements Store on top of MongoDB change streams. Counters and
// viewer sets are mutated with $inc / $addToSet so concurrent writers never
// race a read-modify-write, and chat creation is an upsert with $setOnInsert
// so both participants of a new chat converge on one document.
type Mongo struct {
	db     *mongo.Database
	logger *zap.Logger

	users    *mongo.Collection
	chats    *mongo.Collection
	messages *mongo.Collection
	statuses *mongo.Collection
}

// OpenMongo connects to MongoDB and returns a change-stream backed store.
// Requires a replica set or sharded cluster (change streams do not work on
// standalone servers).
func OpenMongo(ctx context.Context, uri, database string, logger *zap.Logger) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mongo{
		db:       db,
		logger:   logger,
		users:    db.Collection("users"),
		chats:    db.Collection("chats"),
		messages: db.Collection("messages"),
		statuses: db.Collection("statuses"),
	}, nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.db.Client().Disconnect(ctx)
}

func (m *Mongo) SubscribeUsers(ctx context.Context) (<-chan UserChange, func(), error) {
	return watch(ctx, m, m.users, bson.M{}, nil,
		func(kind ChangeKind, u model.User) UserChange {
			return UserChange{Kind: kind, User: u}
		})
}

func (m *Mongo) SubscribeChats(ctx context.Context, participantID string) (<-chan ChatChange, func(), error) {
	return watch(ctx, m, m.chats,
		bson.M{"participants": participantID},
		bson.M{"fullDocument.participants": participantID},
		func(kind ChangeKind, c model.Chat) ChatChange {
			return ChatChange{Kind: kind, Chat: c}
		})
}

func (m *Mongo) SubscribeMessages(ctx context.Context, chatID string) (<-chan MessageChange, func(), error) {
	return watch(ctx, m, m.messages,
		bson.M{"chat_id": chatID},
		bson.M{"fullDocument.chat_id": chatID},
		func(kind ChangeKind, msg model.Message) MessageChange {
			return MessageChange{Kind: kind, ChatID: msg.ChatID, Message: msg}
		})
}

func (m *Mongo) SubscribeStatuses(ctx context.Context, sinceMs int64) (<-chan StatusChange, func(), error) {
	return watch(ctx, m, m.statuses,
		bson.M{"created_at": bson.M{"$gte": sinceMs}},
		bson.M{"fullDocument.created_at": bson.M{"$gte": sinceMs}},
		func(kind ChangeKind, s model.Status) StatusChange {
			return StatusChange{Kind: kind, Status: s}
		})
}

// watch replays the documents matching initialFilter as Added events, then
// streams live changes from a change stream until unsubscribe or context
// cancellation. Delete events carry only the document id.
func watch[D any, E any](
	ctx context.Context,
	m *Mongo,
	coll *mongo.Collection,
	initialFilter bson.M,
	streamFilter bson.M,
	wrap func(ChangeKind, D) E,
) (<-chan E, func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	match := bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}
	if streamFilter != nil {
		match = bson.M{"$and": bson.A{
			match,
			bson.M{"$or": bson.A{streamFilter, bson.M{"operationType": "delete"}}},
		}}
	}
	stream, err := coll.Watch(ctx, mongo.Pipeline{bson.D{{Key: "$match", Value: match}}},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("watch %s: %w", coll.Name(), err)
	}

	cursor, err := coll.Find(ctx, initialFilter)
	if err != nil {
		_ = stream.Close(ctx)
		cancel()
		return nil, nil, fmt.Errorf("initial find %s: %w", coll.Name(), err)
	}

	ch := make(chan E, subBuffer)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close(context.Background()) }()

		for cursor.Next(ctx) {
			var doc D
			if err := cursor.Decode(&doc); err != nil {
				m.logger.Warn("decode initial document", zap.String("collection", coll.Name()), zap.Error(err))
				continue
			}
			select {
			case ch <- wrap(Added, doc):
			case <-ctx.Done():
				_ = cursor.Close(context.Background())
				return
			}
		}
		_ = cursor.Close(context.Background())

		for stream.Next(ctx) {
			var raw struct {
				OperationType string   `bson:"operationType"`
				FullDocument  bson.Raw `bson:"fullDocument"`
				DocumentKey   struct {
					ID string `bson:"_id"`
				} `bson:"documentKey"`
			}
			if err := stream.Decode(&raw); err != nil {
				m.logger.Warn("decode change event", zap.String("collection", coll.Name()), zap.Error(err))
				continue
			}

			var kind ChangeKind
			var doc D
			switch raw.OperationType {
			case "insert":
				kind = Added
			case "update", "replace":
				kind = Modified
			case "delete":
				kind = Removed
			default:
				continue
			}
			if raw.OperationType == "delete" {
				// Only the id survives a delete; synthesize a stub document.
				stub, err := bson.Marshal(bson.M{"_id": raw.DocumentKey.ID})
				if err != nil {
					continue
				}
				if err := bson.Unmarshal(stub, &doc); err != nil {
					continue
				}
			} else {
				if raw.FullDocument == nil {
					continue
				}
				if err := bson.Unmarshal(raw.FullDocument, &doc); err != nil {
					m.logger.Warn("decode full document", zap.String("collection", coll.Name()), zap.Error(err))
					continue
				}
			}
			select {
			case ch <- wrap(kind, doc):
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, cancel, nil
}

func (m *Mongo) UpsertUser(ctx context.Context, u model.User) error {
	_, err := m.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
	return err
}

func (m *Mongo) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	var u model.User
	err := m.users.FindOne(ctx, bson.M{"phone": phone}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *Mongo) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := m.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *Mongo) EnsureChat(ctx context.Context, c model.Chat) error {
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int, len(c.Participants))
	}
	_, err := m.chats.UpdateByID(ctx, c.ID,
		bson.M{"$setOnInsert": c},
		options.Update().SetUpsert(true))
	return err
}

func (m *Mongo) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var c model.Chat
	err := m.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *Mongo) BumpChat(ctx context.Context, chatID, lastBody, lastSender string, atMs int64, unreadFor []string) error {
	inc := bson.M{}
	for _, id := range unreadFor {
		inc["unread_counts."+id] = 1
	}
	update := bson.M{"$set": bson.M{
		"last_message_body":   lastBody,
		"last_message_sender": lastSender,
		"last_message_at":     atMs,
		"updated_at":          atMs,
	}}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	res, err := m.chats.UpdateByID(ctx, chatID, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("bump chat %s: %w", chatID, model.ErrNotFound)
	}
	return nil
}

func (m *Mongo) ResetUnread(ctx context.Context, chatID, userID string) error {
	res, err := m.chats.UpdateByID(ctx, chatID,
		bson.M{"$set": bson.M{"unread_counts." + userID: 0}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("reset unread %s: %w", chatID, model.ErrNotFound)
	}
	return nil
}

func (m *Mongo) PutMessage(ctx context.Context, msg model.Message) error {
	_, err := m.messages.ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg, options.Replace().SetUpsert(true))
	return err
}

// statusOrder lists the on-path delivery states from earliest to latest.
var statusOrder = []delivery.Status{delivery.Sending, delivery.Sent, delivery.Delivered, delivery.Read}

func (m *Mongo) SetMessageStatus(ctx context.Context, chatID, msgID string, st delivery.Status) error {
	// Guard monotonicity in the filter: only documents whose current status
	// ranks strictly below the target are updated, so a stale write after
	// "read" matches nothing.
	var lower bson.A
	for _, s := range statusOrder {
		if s == st {
			break
		}
		lower = append(lower, s)
	}
	lower = append(lower, delivery.Failed)

	_, err := m.messages.UpdateOne(ctx,
		bson.M{"_id": msgID, "chat_id": chatID, "status": bson.M{"$in": lower}},
		bson.M{"$set": bson.M{"status": st}})
	return err
}

func (m *Mongo) PutStatus(ctx context.Context, s model.Status) error {
	if s.ViewedBy == nil {
		s.ViewedBy = []string{}
	}
	_, err := m.statuses.InsertOne(ctx, s)
	return err
}

func (m *Mongo) GetStatus(ctx context.Context, id string) (*model.Status, error) {
	var s model.Status
	err := m.statuses.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Mongo) AddStatusViewer(ctx context.Context, statusID, viewerID string) error {
	res, err := m.statuses.UpdateByID(ctx, statusID,
		bson.M{"$addToSet": bson.M{"viewed_by": viewerID}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("status %s: %w", statusID, model.ErrNotFound)
	}
	return nil
}

func (m *Mongo) DeleteStatus(ctx context.Context, statusID string) error {
	res, err := m.statuses.DeleteOne(ctx, bson.M{"_id": statusID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("status %s: %w", statusID, model.ErrNotFound)
	}
	return nil
}
