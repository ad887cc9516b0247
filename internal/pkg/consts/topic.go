package consts

import "strings"

// Broker 主题
//   chat/{conversationId}/message
//   chat/{conversationId}/typing
//   chat/{conversationId}/seen
//   user/{userId}/online
//   presence/{userId}/heartbeat  (入站)
const (
	TopicKindMessage   = "message"
	TopicKindTyping    = "typing"
	TopicKindSeen      = "seen"
	TopicKindOnline    = "online"
	TopicKindHeartbeat = "heartbeat"

	HeartbeatTopicPattern = "presence/*/heartbeat"
)

func ChatMessageTopic(conversationID string) string {
	return "chat/" + conversationID + "/" + TopicKindMessage
}

func ChatTypingTopic(conversationID string) string {
	return "chat/" + conversationID + "/" + TopicKindTyping
}

func ChatSeenTopic(conversationID string) string {
	return "chat/" + conversationID + "/" + TopicKindSeen
}

func UserOnlineTopic(userID string) string {
	return "user/" + userID + "/" + TopicKindOnline
}

func HeartbeatTopic(userID string) string {
	return "presence/" + userID + "/" + TopicKindHeartbeat
}

// ParsedTopic 解析结果，ID 为会话 ID 或用户 ID
type ParsedTopic struct {
	Kind string
	ID   string
}

// ParseTopic 解析主题字符串，无法识别时 ok 为 false
func ParseTopic(topic string) (ParsedTopic, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return ParsedTopic{}, false
	}

	switch parts[0] {
	case "chat":
		switch parts[2] {
		case TopicKindMessage, TopicKindTyping, TopicKindSeen:
			return ParsedTopic{Kind: parts[2], ID: parts[1]}, true
		}
	case "user":
		if parts[2] == TopicKindOnline {
			return ParsedTopic{Kind: TopicKindOnline, ID: parts[1]}, true
		}
	case "presence":
		if parts[2] == TopicKindHeartbeat {
			return ParsedTopic{Kind: TopicKindHeartbeat, ID: parts[1]}, true
		}
	}
	return ParsedTopic{}, false
}
