package dto

import "github.com/goccy/go-json"

// InboundEvent WS 客户端上行事件
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// InboundConversation 上行事件中携带会话 ID 的负载
type InboundConversation struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}
