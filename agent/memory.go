package agent

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/chatforge/message"
)

// Memory is the runtime's durable message memory, one Mongo collection per
// personality hash so characters never see each other's rooms.
type Memory struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type memoryDoc struct {
	Room      string    `bson:"room"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	SenderID  string    `bson:"sender_id,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMemory connects to Mongo and binds the collection for one hash.
func NewMemory(ctx context.Context, uri, database, hash string) (*Memory, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &Memory{
		client:     client,
		collection: client.Database(database).Collection("memories_" + hash),
	}, nil
}

// Append records one message for a room.
func (m *Memory) Append(ctx context.Context, roomID string, msg message.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := m.collection.InsertOne(ctx, memoryDoc{
		Room:      roomID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		CreatedAt: createdAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// Recent returns up to limit messages for a room, oldest first.
func (m *Memory) Recent(ctx context.Context, roomID string, limit int64) ([]message.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)
	cursor, err := m.collection.Find(ctx, bson.M{"room": roomID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []memoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode memories: %w", err)
	}

	msgs := make([]message.Message, len(docs))
	for i, doc := range docs {
		// Reverse the newest-first sort back into chronological order.
		msgs[len(docs)-1-i] = message.Message{
			Role:      message.Role(doc.Role),
			Content:   doc.Content,
			SenderID:  doc.SenderID,
			CreatedAt: doc.CreatedAt,
		}
	}
	return msgs, nil
}

// Close disconnects from Mongo.
func (m *Memory) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
