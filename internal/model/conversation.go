package model

import "time"

const (
	ConversationTypePrivate = "private"
	ConversationTypeGroup   = "group"
)

const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// Conversation 会话主表
type Conversation struct {
	ID            string     `gorm:"primaryKey;type:char(36)" json:"id"`
	Type          string     `gorm:"type:varchar(16);not null;default:'private'" json:"type"` // private / group
	Name          *string    `gorm:"type:varchar(255)" json:"name"`
	Avatar        *string    `gorm:"type:varchar(512)" json:"avatar"`
	CreatedBy     string     `gorm:"type:char(36);not null" json:"createdBy"`
	LastMessageID *string    `gorm:"type:varchar(64)" json:"lastMessageId"` // Mongo 消息 ID
	LastMessageAt *time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"index" json:"updatedAt"`

	Members []ConversationMember `gorm:"foreignKey:ConversationID;references:ID" json:"members,omitempty"`
}

func (Conversation) TableName() string { return "conversations" }

// ConversationMember 会话成员表，(conversation_id, user_id) 唯一
type ConversationMember struct {
	ConversationID    string    `gorm:"primaryKey;type:char(36)" json:"conversationId"`
	UserID            string    `gorm:"primaryKey;type:char(36);index" json:"userId"`
	Role              string    `gorm:"type:varchar(16);not null;default:'member'" json:"role"`
	UnreadCount       int64     `gorm:"not null;default:0" json:"unreadCount"`
	LastReadMessageID *string   `gorm:"type:varchar(64)" json:"lastReadMessageId"`
	IsMuted           int8      `gorm:"not null;default:0" json:"isMuted"`
	IsPinned          int8      `gorm:"not null;default:0" json:"isPinned"`
	JoinedAt          time.Time `json:"joinedAt"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID" json:"-"`
	User         User         `gorm:"foreignKey:UserID;references:ID" json:"-"`
}

func (ConversationMember) TableName() string { return "conversation_members" }
