package handler

import (
	"TelegramMini/internal/api/dto"
	"TelegramMini/internal/pkg/consts"
	"TelegramMini/internal/pkg/logger"
	"TelegramMini/internal/pkg/realtime"
	"TelegramMini/internal/pkg/response"
	"TelegramMini/internal/pkg/security"
	"TelegramMini/internal/service"
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// 超过 pongWait 没有任何上行数据视为断线
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// PresenceSignals 连接生命周期与心跳信号，presence.Tracker 满足
type PresenceSignals interface {
	Connect(ctx context.Context, userID string)
	Disconnect(ctx context.Context, userID string)
	Heartbeat(ctx context.Context, userID string)
	Timeout() time.Duration
}

// pingPeriodFor 超时内至少三次 ping，丢失一次 pong 也不会被清扫
func pingPeriodFor(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return realtime.DefaultPingPeriod
	}
	return timeout / 3
}

type WsHandler struct {
	imService service.IMService
	hub       *realtime.Hub
	presence  PresenceSignals
	verifier  security.Verifier
}

func NewWsHandler(im service.IMService, hub *realtime.Hub, presence PresenceSignals, verifier security.Verifier) *WsHandler {
	return &WsHandler{
		imService: im,
		hub:       hub,
		presence:  presence,
		verifier:  verifier,
	}
}

// Connect 升级前完成鉴权，失败直接 401，不会进入任何分组
func (s *WsHandler) Connect(c *gin.Context) {
	userID, err := s.verifier.Verify(c.Query("token"))
	if err != nil {
		log.WarnContext(c.Request.Context(), "WS 鉴权失败", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.Response{
			Code:    response.Unauthorized,
			Message: service.UnauthorizedError.Error(),
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.ErrorContext(c.Request.Context(), "WS 协议升级失败", "err", err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	session := realtime.NewSession(userID, conn, realtime.WithPingPeriod(pingPeriodFor(s.presence.Timeout())))
	s.hub.Register(session)
	defer func() {
		s.hub.Unregister(session)
		s.presence.Disconnect(ctx, userID)
		log.InfoContext(ctx, "用户 WS 连接已断开", "user_id", userID, "session_id", session.ID)
	}()

	// 进入用户参与的所有会话房间
	ids, err := s.imService.ConversationIDsForUser(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "获取会话列表失败", "user_id", userID, "err", err)
	}
	for _, id := range ids {
		s.hub.Join(consts.ConversationGroup(id), session)
	}

	session.Start()
	s.presence.Connect(ctx, userID)
	log.InfoContext(ctx, "用户 WS 连接已建立", "user_id", userID, "session_id", session.ID, "rooms", len(ids))

	s.readLoop(ctx, conn, session)
}

// readLoop 同一连接的上行事件按到达顺序逐个处理
func (s *WsHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *realtime.Session) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		s.presence.Heartbeat(ctx, session.UserID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WarnContext(ctx, "WS 读取失败", "user_id", session.UserID, "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		// 任何上行帧都视为连接存活
		s.presence.Heartbeat(ctx, session.UserID)

		eventCtx := logger.WithTraceID(ctx, "ws-"+uuid.NewString())
		if err := s.dispatch(eventCtx, session, data); err != nil {
			log.WarnContext(eventCtx, "WS 事件处理失败", "user_id", session.UserID, "err", err)
		}
	}
}

// dispatch 处理失败时向当前连接回一条 error 事件
func (s *WsHandler) dispatch(ctx context.Context, session *realtime.Session, data []byte) error {
	var in dto.InboundEvent
	if err := json.Unmarshal(data, &in); err != nil {
		return s.replyError(session, "", service.ErrParamInvalid)
	}

	err := s.handleEvent(ctx, session.UserID, &in)
	if err != nil {
		return s.replyError(session, in.Event, err)
	}
	return nil
}

func (s *WsHandler) handleEvent(ctx context.Context, userID string, in *dto.InboundEvent) error {
	switch in.Event {
	case consts.InboundHeartbeat:
		// 读循环收到帧时已续期
		return nil

	case consts.InboundMessageSend:
		var req dto.SendMessageReq
		if err := decodeData(in.Data, &req); err != nil {
			return err
		}
		req.SenderID = userID
		_, err := s.imService.SendMessage(ctx, &req)
		return err

	case consts.InboundTyping:
		var req dto.InboundConversation
		if err := decodeData(in.Data, &req); err != nil {
			return err
		}
		return s.imService.MarkTyping(ctx, req.ConversationID, userID, req.IsTyping)

	case consts.InboundSeen:
		var req dto.InboundConversation
		if err := decodeData(in.Data, &req); err != nil {
			return err
		}
		_, err := s.imService.MarkSeen(ctx, req.ConversationID, userID)
		return err

	case consts.InboundJoin:
		var req dto.InboundConversation
		if err := decodeData(in.Data, &req); err != nil {
			return err
		}
		_, err := s.imService.JoinConversation(ctx, req.ConversationID, userID)
		return err
	}
	return errors.Join(service.ErrParamInvalid, errors.New("unknown event "+in.Event))
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return service.ErrParamInvalid
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(service.ErrParamInvalid, err)
	}
	return nil
}

func (s *WsHandler) replyError(session *realtime.Session, event string, cause error) error {
	_, msg := service.ClientMessage(cause)
	if err := s.hub.SendTo(session, consts.EventError, &dto.ErrorEvent{Event: event, Message: msg}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
