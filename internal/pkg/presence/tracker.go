package presence

import (
	"context"
	"hash/fnv"
	log "log/slog"
	"sync"
	"time"
)

const (
	shardCount = 32

	DefaultTimeout = 30 * time.Second
)

// State 用户在线状态快照
type State struct {
	UserID      string
	Online      bool
	LastSeen    time.Time
	Connections int
}

// Change 一次在线状态迁移，序列化后即 user/{id}/online 的负载
// Version 按用户单调递增，通知在锁外发出，订阅方应丢弃版本不大于已见版本的事件
type Change struct {
	UserID    string     `json:"userId"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Version   uint64     `json:"version"`
}

// Notifier 接收状态迁移，每次迁移恰好回调一次
type Notifier interface {
	PresenceChanged(ctx context.Context, change Change)
}

type entry struct {
	online   bool
	lastSeen time.Time
	conns    int
	version  uint64
}

type shard struct {
	mu    sync.Mutex
	users map[string]*entry
}

// Tracker 合并连接与心跳两类信号推断在线状态
// 连接建立即在线；连接全部正常关闭，或超过 timeout 没有任何续期信号时离线
type Tracker struct {
	shards   [shardCount]*shard
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Tracker)

func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker notifier 可为 nil，此时只维护状态不对外通知
func NewTracker(notifier Notifier, opts ...Option) *Tracker {
	t := &Tracker{
		notifier: notifier,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{users: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

func (t *Tracker) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return t.shards[h.Sum32()%shardCount]
}

// update 在分片锁内修改状态，锁释放后再通知
func (t *Tracker) update(ctx context.Context, userID string, fn func(e *entry, now time.Time) bool) {
	if userID == "" {
		return
	}
	now := t.now()
	s := t.shardFor(userID)

	s.mu.Lock()
	e, ok := s.users[userID]
	if !ok {
		e = &entry{}
		s.users[userID] = e
	}
	wasOnline := e.online
	changed := fn(e, now) && wasOnline != e.online
	if changed {
		e.version++
	}
	online := e.online
	lastSeen := e.lastSeen
	version := e.version
	s.mu.Unlock()

	if changed {
		t.notify(ctx, userID, online, lastSeen, now, version)
	}
}

func (t *Tracker) notify(ctx context.Context, userID string, online bool, lastSeen, now time.Time, version uint64) {
	change := Change{
		UserID:    userID,
		IsOnline:  online,
		Timestamp: now,
		Version:   version,
	}
	if !online {
		change.LastSeen = &lastSeen
	}
	log.DebugContext(ctx, "presence changed", "user_id", userID, "online", online)
	if t.notifier != nil {
		t.notifier.PresenceChanged(ctx, change)
	}
}

// Connect 新连接建立，连接计数 +1 并标记在线
func (t *Tracker) Connect(ctx context.Context, userID string) {
	t.update(ctx, userID, func(e *entry, now time.Time) bool {
		e.conns++
		e.online = true
		e.lastSeen = now
		return true
	})
}

// Disconnect 连接正常关闭，最后一个连接关闭时离线
func (t *Tracker) Disconnect(ctx context.Context, userID string) {
	t.update(ctx, userID, func(e *entry, now time.Time) bool {
		if e.conns > 0 {
			e.conns--
		}
		e.lastSeen = now
		if e.conns == 0 {
			e.online = false
		}
		return true
	})
}

// Heartbeat 续期 last_seen，离线用户重新上线
func (t *Tracker) Heartbeat(ctx context.Context, userID string) {
	t.MarkOnline(ctx, userID)
}

// MarkOnline 幂等，总是刷新 last_seen
func (t *Tracker) MarkOnline(ctx context.Context, userID string) {
	t.update(ctx, userID, func(e *entry, now time.Time) bool {
		e.online = true
		e.lastSeen = now
		return true
	})
}

// MarkOffline 幂等，总是刷新 last_seen；连接计数保持不变，后续心跳仍可恢复在线
func (t *Tracker) MarkOffline(ctx context.Context, userID string) {
	t.update(ctx, userID, func(e *entry, now time.Time) bool {
		e.online = false
		e.lastSeen = now
		return true
	})
}

// Sweep 将 last_seen 距 now 已满 timeout 的在线用户标记为离线，返回本次离线人数
func (t *Tracker) Sweep(ctx context.Context, now time.Time) int {
	type expired struct {
		userID   string
		lastSeen time.Time
		version  uint64
	}
	var offline []expired

	for _, s := range t.shards {
		s.mu.Lock()
		for userID, e := range s.users {
			if !e.online || now.Sub(e.lastSeen) < t.timeout {
				continue
			}
			e.online = false
			e.lastSeen = now
			e.version++
			offline = append(offline, expired{userID: userID, lastSeen: now, version: e.version})
		}
		s.mu.Unlock()
	}

	for _, o := range offline {
		t.notify(ctx, o.userID, false, o.lastSeen, now, o.version)
	}
	return len(offline)
}

// Get 未出现过的用户返回离线零值
func (t *Tracker) Get(userID string) State {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userID]
	if !ok {
		return State{UserID: userID}
	}
	return State{
		UserID:      userID,
		Online:      e.online,
		LastSeen:    e.lastSeen,
		Connections: e.conns,
	}
}

func (t *Tracker) IsOnline(userID string) bool {
	return t.Get(userID).Online
}

// OnlineUsers 当前在线用户，无序
func (t *Tracker) OnlineUsers() []string {
	users := make([]string, 0)
	for _, s := range t.shards {
		s.mu.Lock()
		for userID, e := range s.users {
			if e.online {
				users = append(users, userID)
			}
		}
		s.mu.Unlock()
	}
	return users
}
