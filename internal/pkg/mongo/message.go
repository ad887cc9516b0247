package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeAudio  = "audio"
	MessageTypeVideo  = "video"
	MessageTypeSystem = "system"
)

// Message MongoDB 消息明细模型，写入后只有 seen_by 会增长
type Message struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID  string             `bson:"conversation_id" json:"conversationId"` // 关联 MySQL 的会话 ID
	SenderID        string             `bson:"sender_id" json:"senderId"`
	Content         string             `bson:"content" json:"content"`
	Type            string             `bson:"type" json:"type"`
	SeenBy          []string           `bson:"seen_by" json:"seenBy"`
	ClientMessageID string             `bson:"client_message_id,omitempty" json:"clientMessageId,omitempty"` // 客户端幂等键
	CreatedAt       time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt       *time.Time         `bson:"updated_at,omitempty" json:"updatedAt,omitempty"`
}
