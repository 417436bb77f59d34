package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoDatabase = "listeando"

// MongoStore keeps lists and their logs in MongoDB.
type MongoStore struct {
	client *mongo.Client
	lists  *mongo.Collection
	logs   *mongo.Collection
}

type listDocument struct {
	ID        string           `bson:"_id"`
	Prompt    string           `bson:"prompt"`
	Title     string           `bson:"title,omitempty"`
	Status    string           `bson:"status"`
	Data      []map[string]any `bson:"data,omitempty"`
	Error     string           `bson:"error,omitempty"`
	SessionID string           `bson:"session_id,omitempty"`
	UserID    string           `bson:"user_id,omitempty"`
	CreatedAt time.Time        `bson:"created_at"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

type logDocument struct {
	ListID    string    `bson:"list_id"`
	Timestamp time.Time `bson:"timestamp"`
	Level     string    `bson:"level"`
	Message   string    `bson:"message"`
	Metadata  []byte    `bson:"metadata,omitempty"`
}

// NewMongo connects to MongoDB and prepares the collections.
func NewMongo(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(mongoDatabase)
	s := &MongoStore{
		client: client,
		lists:  db.Collection("lists"),
		logs:   db.Collection("list_logs"),
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := s.lists.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create list indexes: %w", err)
	}
	logIndex := mongo.IndexModel{Keys: bson.D{{Key: "list_id", Value: 1}, {Key: "timestamp", Value: 1}}}
	if _, err := s.logs.Indexes().CreateOne(ctx, logIndex); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create log index: %w", err)
	}

	return s, nil
}

func (s *MongoStore) CreateList(ctx context.Context, list *List) error {
	now := time.Now().UTC()
	list.CreatedAt = now
	list.UpdatedAt = now

	doc := listDocument{
		ID:        list.ID.String(),
		Prompt:    list.Prompt,
		Status:    string(list.Status),
		SessionID: list.SessionID,
		UserID:    list.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.lists.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create list: %w", err)
	}
	return nil
}

func (s *MongoStore) GetList(ctx context.Context, id uuid.UUID) (*List, error) {
	var doc listDocument
	err := s.lists.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return docToList(doc)
}

func (s *MongoStore) ListLists(ctx context.Context, limit int) ([]List, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.lists.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	return collectDocs(ctx, cursor)
}

func (s *MongoStore) ListsBySession(ctx context.Context, sessionID string) ([]List, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.lists.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list session lists: %w", err)
	}
	return collectDocs(ctx, cursor)
}

func (s *MongoStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return s.updateList(ctx, id, bson.M{"status": string(status)})
}

func (s *MongoStore) CompleteList(ctx context.Context, id uuid.UUID, title string, data []map[string]any) error {
	return s.updateList(ctx, id, bson.M{
		"status": string(StatusCompleted),
		"title":  title,
		"data":   data,
	})
}

func (s *MongoStore) FailList(ctx context.Context, id uuid.UUID, reason string) error {
	return s.updateList(ctx, id, bson.M{
		"status": string(StatusFailed),
		"error":  reason,
	})
}

func (s *MongoStore) updateList(ctx context.Context, id uuid.UUID, fields bson.M) error {
	fields["updated_at"] = time.Now().UTC()
	result, err := s.lists.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update list: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteList(ctx context.Context, id uuid.UUID) error {
	result, err := s.lists.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := s.logs.DeleteMany(ctx, bson.M{"list_id": id.String()}); err != nil {
		return fmt.Errorf("failed to delete list logs: %w", err)
	}
	return nil
}

func (s *MongoStore) AppendLog(ctx context.Context, entry LogEntry) error {
	doc := logDocument{
		ListID:    entry.ListID.String(),
		Timestamp: entry.Timestamp,
		Level:     entry.Level,
		Message:   entry.Message,
		Metadata:  entry.Metadata,
	}
	if _, err := s.logs.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *MongoStore) GetLogs(ctx context.Context, listID uuid.UUID) ([]LogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.logs.Find(ctx, bson.M{"list_id": listID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []LogEntry
	for cursor.Next(ctx) {
		var doc logDocument
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		logs = append(logs, LogEntry{
			ID:        len(logs) + 1,
			ListID:    listID,
			Timestamp: doc.Timestamp,
			Level:     doc.Level,
			Message:   doc.Message,
			Metadata:  doc.Metadata,
		})
	}
	return logs, cursor.Err()
}

func (s *MongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

func docToList(doc listDocument) (*List, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid list id %q: %w", doc.ID, err)
	}
	return &List{
		ID:        id,
		Prompt:    doc.Prompt,
		Title:     doc.Title,
		Status:    Status(doc.Status),
		Data:      doc.Data,
		Error:     doc.Error,
		SessionID: doc.SessionID,
		UserID:    doc.UserID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func collectDocs(ctx context.Context, cursor *mongo.Cursor) ([]List, error) {
	defer cursor.Close(ctx)

	var lists []List
	for cursor.Next(ctx) {
		var doc listDocument
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		list, err := docToList(doc)
		if err != nil {
			continue
		}
		lists = append(lists, *list)
	}
	return lists, cursor.Err()
}
