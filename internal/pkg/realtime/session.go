package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// DefaultPingPeriod 须小于在线超时，pong 才能在清扫前续期
	DefaultPingPeriod = 15 * time.Second

	sendBufferSize = 128
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("session send buffer full")
)

// Conn 写循环用到的连接能力，*websocket.Conn 直接满足
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session 一条实时连接，出站消息经缓冲队列由写循环串行写出
type Session struct {
	ID     string
	UserID string

	conn       Conn
	pingPeriod time.Duration
	send       chan []byte
	closed     chan struct{}
	once       sync.Once

	mu     sync.Mutex
	groups map[string]struct{}
	done   bool
}

type SessionOption func(*Session)

// WithPingPeriod 写循环发送 ping 的间隔
func WithPingPeriod(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.pingPeriod = d
		}
	}
}

func NewSession(userID string, conn Conn, opts ...SessionOption) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		conn:       conn,
		pingPeriod: DefaultPingPeriod,
		send:       make(chan []byte, sendBufferSize),
		closed:     make(chan struct{}),
		groups:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) PingPeriod() time.Duration {
	return s.pingPeriod
}

// Start 启动写循环，每个会话只能调用一次
func (s *Session) Start() {
	go s.writeLoop()
}

// Send 非阻塞入队；缓冲区满说明客户端过慢，直接关闭连接
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrSessionClosed
	case s.send <- payload:
		return nil
	default:
		s.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close 幂等，通知写循环退出并关闭底层连接
func (s *Session) Close(code int, reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()

		close(s.closed)
		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.conn.Close()
	})
}

// Done 会话关闭后返回的 channel 被关闭
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Groups 当前所在分组快照
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	return groups
}

// addGroup 会话已关闭时返回 false
func (s *Session) addGroup(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.groups[key] = struct{}{}
	return true
}

func (s *Session) removeGroup(key string) {
	s.mu.Lock()
	delete(s.groups, key)
	s.mu.Unlock()
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (s *Session) write(messageType int, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, payload)
}
