package service

import (
	"TelegramMini/internal/pkg/consts"
	"TelegramMini/internal/pkg/presence"
	"TelegramMini/internal/repository"
	"context"
	log "log/slog"
	"sync"
	"time"
)

const presenceFanoutTimeout = 3 * time.Second

// Publisher broker 主题发布，redis.Broker 与 kafka.EventProducer 均满足
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Emitter 房间推送，realtime.Hub 满足
type Emitter interface {
	Emit(key, event string, payload any) (int, error)
	JoinUser(userID, key string) int
}

// EventFanout 协调器写入成功后的推送出口，所有失败只记录日志
type EventFanout interface {
	ToConversation(ctx context.Context, convID, event string, payload any)
	ToUser(ctx context.Context, userID, event string, payload any)
	Publish(ctx context.Context, topic string, payload any)
	JoinConversation(ctx context.Context, userID, convID string)
}

// Fanout 房间直推 + broker 主题双通道
type Fanout struct {
	hub        Emitter
	convRepo   repository.ConversationRepo
	publishers []Publisher

	mu       sync.Mutex
	presence map[string]uint64 // 每个用户已转发的最大状态版本
}

func NewFanout(hub Emitter, convRepo repository.ConversationRepo, publishers ...Publisher) *Fanout {
	live := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			live = append(live, p)
		}
	}
	return &Fanout{
		hub:        hub,
		convRepo:   convRepo,
		publishers: live,
		presence:   make(map[string]uint64),
	}
}

func (f *Fanout) ToConversation(ctx context.Context, convID, event string, payload any) {
	f.emit(ctx, consts.ConversationGroup(convID), event, payload)
}

func (f *Fanout) ToUser(ctx context.Context, userID, event string, payload any) {
	f.emit(ctx, consts.UserGroup(userID), event, payload)
}

func (f *Fanout) emit(ctx context.Context, key, event string, payload any) {
	if _, err := f.hub.Emit(key, event, payload); err != nil {
		log.ErrorContext(ctx, "realtime emit failed", "group", key, "event", event, "err", err)
	}
}

// Publish 依次投递给所有 publisher，单个失败不影响其他通道
func (f *Fanout) Publish(ctx context.Context, topic string, payload any) {
	for _, p := range f.publishers {
		if err := p.Publish(ctx, topic, payload); err != nil {
			log.ErrorContext(ctx, "broker publish failed", "topic", topic, "err", err)
		}
	}
}

// JoinConversation 用户当前所有连接加入会话房间
func (f *Fanout) JoinConversation(ctx context.Context, userID, convID string) {
	n := f.hub.JoinUser(userID, consts.ConversationGroup(convID))
	log.DebugContext(ctx, "sessions joined conversation room", "user_id", userID, "conversation_id", convID, "sessions", n)
}

// PresenceChanged 发布 user/{id}/online，并推送到该用户所在的全部会话房间
// 迟到的旧版本直接丢弃，避免覆盖更新的状态
func (f *Fanout) PresenceChanged(ctx context.Context, change presence.Change) {
	if !f.advancePresence(change) {
		log.DebugContext(ctx, "stale presence change dropped", "user_id", change.UserID, "version", change.Version)
		return
	}

	// 断线回调时请求 ctx 往往已取消
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceFanoutTimeout)
	defer cancel()

	f.Publish(ctx, consts.UserOnlineTopic(change.UserID), change)

	convIDs, err := f.convRepo.ListConversationIDs(ctx, change.UserID)
	if err != nil {
		log.ErrorContext(ctx, "list conversations for presence fanout failed", "user_id", change.UserID, "err", err)
		return
	}
	for _, id := range convIDs {
		f.ToConversation(ctx, id, consts.EventPresenceUpdate, change)
	}
}

func (f *Fanout) advancePresence(change presence.Change) bool {
	if change.Version == 0 {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if change.Version <= f.presence[change.UserID] {
		return false
	}
	f.presence[change.UserID] = change.Version
	return true
}
