package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo interface {
	Append(ctx context.Context, msg *Message) (*Message, bool, error)
	ListByConversation(ctx context.Context, convID string) ([]*Message, error)
	MarkSeen(ctx context.Context, convID, userID string) (int64, error)
	Latest(ctx context.Context, convID string) (*Message, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
	now func() time.Time
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("messages"),
		now: time.Now,
	}
}

// EnsureIndexes 会话时间线索引 + 客户端幂等键唯一索引
// 幂等键只在同一发送者内唯一，不同用户可以使用相同的 client_message_id
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("messages").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "sender_id", Value: 1},
				{Key: "client_message_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"client_message_id": bson.M{"$type": "string"}}),
		},
	})
	return err
}

// Append 追加消息，ID 与创建时间由服务端生成
// 同一发送者携带的 client_message_id 已存在时返回已存储的消息，duplicate 为 true
func (s *messageRepoImpl) Append(ctx context.Context, msg *Message) (*Message, bool, error) {
	msg.ID = primitive.NewObjectID()
	// Mongo 时间精度为毫秒，提前截断保证返回值与落库一致
	msg.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	msg.UpdatedAt = nil
	if msg.SeenBy == nil {
		msg.SeenBy = []string{}
	}

	_, err := s.col.InsertOne(ctx, msg)
	if err == nil {
		return msg, false, nil
	}
	if msg.ClientMessageID == "" || !mongo.IsDuplicateKeyError(err) {
		return nil, false, err
	}

	var existing Message
	filter := bson.M{
		"conversation_id":   msg.ConversationID,
		"sender_id":         msg.SenderID,
		"client_message_id": msg.ClientMessageID,
	}
	if findErr := s.col.FindOne(ctx, filter).Decode(&existing); findErr != nil {
		return nil, false, findErr
	}
	return &existing, true, nil
}

// ListByConversation 按时间正序拉取会话全部消息
func (s *messageRepoImpl) ListByConversation(ctx context.Context, convID string) ([]*Message, error) {
	findOptions := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})

	cursor, err := s.col.Find(ctx, bson.M{"conversation_id": convID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	messages := make([]*Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkSeen 将 userID 加入该会话所有未读消息的 seen_by，重复调用无副作用
func (s *messageRepoImpl) MarkSeen(ctx context.Context, convID, userID string) (int64, error) {
	filter := bson.M{
		"conversation_id": convID,
		"seen_by":         bson.M{"$ne": userID},
	}
	update := bson.M{"$addToSet": bson.M{"seen_by": userID}}
	result, err := s.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// Latest 会话最新一条消息，没有消息时返回 nil, nil
func (s *messageRepoImpl) Latest(ctx context.Context, convID string) (*Message, error) {
	opts := options.FindOne().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	})

	var msg Message
	err := s.col.FindOne(ctx, bson.M{"conversation_id": convID}, opts).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}
