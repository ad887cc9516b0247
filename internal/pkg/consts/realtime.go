package consts

// 实时推送分组
const (
	ConversationGroupPrefix = "conversation:"
	UserGroupPrefix         = "user:"
)

func ConversationGroup(conversationID string) string {
	return ConversationGroupPrefix + conversationID
}

func UserGroup(userID string) string {
	return UserGroupPrefix + userID
}

// WS 出站事件
const (
	EventMessageNew       = "message:new"
	EventTyping           = "typing"
	EventSeenUpdate       = "seen:update"
	EventPresenceUpdate   = "presence:update"
	EventConversationNew  = "conversation:new"
	EventConversationJoin = "conversation:join"
	EventError            = "error"
)

// WS 入站事件
const (
	InboundMessageSend = "message:send"
	InboundTyping      = "typing"
	InboundSeen        = "seen"
	InboundHeartbeat   = "heartbeat"
	InboundJoin        = "join"
)
