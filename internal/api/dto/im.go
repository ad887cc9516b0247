package dto

import "time"

// SendMessageReq 发送消息请求体，SenderID 由鉴权中间件或 WS 会话填充
type SendMessageReq struct {
	ConversationID  string `json:"conversationId"`
	SenderID        string `json:"-"`
	Content         string `json:"content" validate:"max=4000"`
	Type            string `json:"type" validate:"omitempty,oneof=text image file audio video system"`
	ClientMessageID string `json:"clientMessageId" validate:"omitempty,max=64"`
}

// CreateConversationReq 创建会话请求体，CreatedBy 取当前登录用户
type CreateConversationReq struct {
	UserIDs   []string `json:"userIds" validate:"required,min=1,max=500,dive,required"`
	Type      string   `json:"type" validate:"omitempty,oneof=private group"`
	Name      *string  `json:"name" validate:"omitempty,max=255"`
	Avatar    *string  `json:"avatar" validate:"omitempty,max=512"`
	CreatedBy string   `json:"-"`
}

// TypingReq 正在输入
type TypingReq struct {
	IsTyping bool `json:"isTyping"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Content        string     `json:"content"`
	Type           string     `json:"type"`
	SeenBy         []string   `json:"seenBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// MemberDTO 会话成员，用户资料来自 users 表
type MemberDTO struct {
	ID        string  `json:"id"`
	FullName  string  `json:"fullName"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	IsOnline  *bool   `json:"isOnline,omitempty"`
}

// ConversationDTO 创建 / 加入会话后的响应
type ConversationDTO struct {
	ID             string      `json:"id"`
	Type           string      `json:"type"`
	Name           *string     `json:"name,omitempty"`
	Avatar         *string     `json:"avatar,omitempty"`
	CreatedBy      string      `json:"createdBy"`
	ParticipantIDs []string    `json:"participantIds"`
	Members        []MemberDTO `json:"members"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// ConversationListItem 会话列表项
type ConversationListItem struct {
	ID             string      `json:"id"`
	Type           string      `json:"type"`
	Name           *string     `json:"name,omitempty"`
	Avatar         *string     `json:"avatar,omitempty"`
	ParticipantIDs []string    `json:"participantIds"`
	Members        []MemberDTO `json:"members"`
	LastMessage    *MessageDTO `json:"lastMessage,omitempty"`
	UnreadCount    int64       `json:"unreadCount"`
	Pinned         bool        `json:"pinned"`
	Muted          bool        `json:"muted"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// TypingEvent 正在输入推送
type TypingEvent struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
	Timestamp      time.Time `json:"timestamp"`
}

// SeenEvent 已读回执推送，MessageID 为已读到的最新消息
type SeenEvent struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationJoinEvent 新成员加入推送
type ConversationJoinEvent struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrorEvent WS 入站事件处理失败时回给当前连接
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
