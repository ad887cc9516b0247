package realtime

import (
	"TelegramMini/internal/pkg/consts"
	"hash/fnv"
	log "log/slog"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const hubShardCount = 32

// Envelope 推送给客户端的统一结构
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type hubShard struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Session // groupKey -> sessionID -> session
}

// Hub 按分组维护在线会话，分组键为 conversation:{id} 或 user:{id}
// 分组簿记按键哈希分片加锁，不同会话之间互不阻塞
type Hub struct {
	shards [hubShardCount]*hubShard

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub() *Hub {
	h := &Hub{sessions: make(map[string]*Session)}
	for i := range h.shards {
		h.shards[i] = &hubShard{groups: make(map[string]map[string]*Session)}
	}
	return h
}

func (h *Hub) shardFor(key string) *hubShard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	return h.shards[f.Sum32()%hubShardCount]
}

// Register 登记会话并加入其用户分组
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	h.Join(consts.UserGroup(s.UserID), s)
}

// Unregister 关闭会话并移出所有分组，可重复调用
func (h *Hub) Unregister(s *Session) {
	s.Close(websocket.CloseNormalClosure, "")

	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	for _, key := range s.Groups() {
		h.Leave(key, s)
	}
}

// Join 加入分组，已关闭的会话不会被加入
func (h *Hub) Join(key string, s *Session) {
	sh := h.shardFor(key)
	sh.mu.Lock()
	members := sh.groups[key]
	if members == nil {
		members = make(map[string]*Session)
		sh.groups[key] = members
	}
	members[s.ID] = s
	sh.mu.Unlock()

	if !s.addGroup(key) {
		h.removeFromGroup(key, s)
	}
}

func (h *Hub) Leave(key string, s *Session) {
	h.removeFromGroup(key, s)
	s.removeGroup(key)
}

func (h *Hub) removeFromGroup(key string, s *Session) {
	sh := h.shardFor(key)
	sh.mu.Lock()
	if members, ok := sh.groups[key]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(sh.groups, key)
		}
	}
	sh.mu.Unlock()
}

// JoinUser 用户的所有在线会话加入分组，返回加入的会话数
func (h *Hub) JoinUser(userID, key string) int {
	sessions := h.members(consts.UserGroup(userID))
	for _, s := range sessions {
		h.Join(key, s)
	}
	return len(sessions)
}

// LeaveUser 用户的所有在线会话离开分组
func (h *Hub) LeaveUser(userID, key string) {
	for _, s := range h.members(consts.UserGroup(userID)) {
		h.Leave(key, s)
	}
}

func (h *Hub) members(key string) []*Session {
	sh := h.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	members := sh.groups[key]
	sessions := make([]*Session, 0, len(members))
	for _, s := range members {
		sessions = append(sessions, s)
	}
	return sessions
}

// Emit 序列化一次后投递给分组内所有会话，返回成功入队的会话数
// 队列已满的会话被关闭并注销，不会阻塞调用方
func (h *Hub) Emit(key, event string, payload any) (int, error) {
	sessions := h.members(key)
	if len(sessions) == 0 {
		return 0, nil
	}

	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, s := range sessions {
		if err := s.Send(data); err != nil {
			log.Warn("drop slow realtime session", "session_id", s.ID, "user_id", s.UserID, "err", err)
			h.Unregister(s)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// SendTo 只投递给单个会话，用于错误回执
func (h *Hub) SendTo(s *Session, event string, payload any) error {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}
	return s.Send(data)
}

// GroupSize 分组内会话数
func (h *Hub) GroupSize(key string) int {
	sh := h.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.groups[key])
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown 以 CloseGoingAway 关闭所有会话，服务退出时调用
func (h *Hub) Shutdown() int {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.Close(websocket.CloseGoingAway, "server shutdown")
		h.Unregister(s)
	}
	return len(all)
}
