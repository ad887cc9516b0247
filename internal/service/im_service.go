package service

import (
	"TelegramMini/internal/api/dto"
	"TelegramMini/internal/model"
	"TelegramMini/internal/pkg/consts"
	"TelegramMini/internal/pkg/mongo"
	"TelegramMini/internal/pkg/presence"
	"TelegramMini/internal/pkg/util"
	"TelegramMini/internal/repository"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const latestMessageConcurrency = 8

// PresenceReader 协调器只读在线状态
type PresenceReader interface {
	Get(userID string) presence.State
}

// IMService 消息协调器
// 每个写操作依次执行 校验 → 鉴权 → 写入 → 更新元数据 → 推送
type IMService interface {
	SendMessage(ctx context.Context, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	CreateConversation(ctx context.Context, req *dto.CreateConversationReq) (*dto.ConversationDTO, error)
	ListConversations(ctx context.Context, userID string) ([]*dto.ConversationListItem, error)
	JoinConversation(ctx context.Context, convID, userID string) (*dto.ConversationDTO, error)
	MarkTyping(ctx context.Context, convID, userID string, isTyping bool) error
	MarkSeen(ctx context.Context, convID, userID string) (*dto.SeenEvent, error)
	ListMessages(ctx context.Context, convID, userID string) ([]*dto.MessageDTO, error)
	GetPresence(userID string) *dto.PresenceDTO
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
}

type imServiceImpl struct {
	convRepo    repository.ConversationRepo
	userRepo    repository.UserRepo
	messageRepo mongo.MessageRepo
	fanout      EventFanout
	presence    PresenceReader
	now         func() time.Time
}

// NewIMService 任一依赖缺失直接返回错误，启动阶段即失败
func NewIMService(
	convRepo repository.ConversationRepo,
	userRepo repository.UserRepo,
	messageRepo mongo.MessageRepo,
	fanout EventFanout,
	tracker PresenceReader,
) (IMService, error) {
	switch {
	case convRepo == nil:
		return nil, errors.New("im service: conversation repository is required")
	case userRepo == nil:
		return nil, errors.New("im service: user repository is required")
	case messageRepo == nil:
		return nil, errors.New("im service: message repository is required")
	case fanout == nil:
		return nil, errors.New("im service: fanout is required")
	case tracker == nil:
		return nil, errors.New("im service: presence tracker is required")
	}
	return &imServiceImpl{
		convRepo:    convRepo,
		userRepo:    userRepo,
		messageRepo: messageRepo,
		fanout:      fanout,
		presence:    tracker,
		now:         time.Now,
	}, nil
}

// SendMessage 发送消息
// 消息落库之后的元数据更新失败只记录日志，不影响本次请求
func (s *imServiceImpl) SendMessage(ctx context.Context, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: 请求体为空", ErrValidation)
	}
	convID := strings.TrimSpace(req.ConversationID)
	senderID := strings.TrimSpace(req.SenderID)
	switch {
	case convID == "":
		return nil, fmt.Errorf("%w: conversationId 不能为空", ErrValidation)
	case senderID == "":
		return nil, fmt.Errorf("%w: senderId 不能为空", ErrValidation)
	case util.IsBlank(req.Content):
		return nil, fmt.Errorf("%w: content 不能为空", ErrValidation)
	}
	if err := util.ValidateDTO(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	msgType := req.Type
	if msgType == "" {
		msgType = mongo.MessageTypeText
	}

	if err := s.authorize(ctx, convID, senderID); err != nil {
		return nil, err
	}

	msg, duplicate, err := s.messageRepo.Append(ctx, &mongo.Message{
		ConversationID:  convID,
		SenderID:        senderID,
		Content:         req.Content,
		Type:            msgType,
		ClientMessageID: strings.TrimSpace(req.ClientMessageID),
	})
	if err != nil {
		return nil, storeError("append message", err)
	}
	result := toMessageDTO(msg)
	if duplicate {
		log.InfoContext(ctx, "duplicate client message id, returning stored message",
			"conversation_id", convID, "message_id", result.ID)
		return result, nil
	}

	if err := s.convRepo.TouchConversation(ctx, convID, result.ID, msg.CreatedAt); err != nil {
		log.ErrorContext(ctx, "touch conversation failed", "conversation_id", convID, "message_id", result.ID, "err", err)
	}
	if err := s.convRepo.IncrementUnread(ctx, convID, senderID); err != nil {
		log.ErrorContext(ctx, "increment unread failed", "conversation_id", convID, "message_id", result.ID, "err", err)
	}

	s.fanout.ToConversation(ctx, convID, consts.EventMessageNew, result)
	s.fanout.Publish(ctx, consts.ChatMessageTopic(convID), result)
	return result, nil
}

// CreateConversation 创建会话，创建者总是成员且角色为 owner
func (s *imServiceImpl) CreateConversation(ctx context.Context, req *dto.CreateConversationReq) (*dto.ConversationDTO, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: 请求体为空", ErrValidation)
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		return nil, fmt.Errorf("%w: createdBy 不能为空", ErrValidation)
	}
	if err := util.ValidateDTO(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	userIDs := util.UniqueStrings(append([]string{createdBy}, req.UserIDs...))
	if len(userIDs) < 2 {
		return nil, fmt.Errorf("%w: 会话至少需要两名不同的成员", ErrValidation)
	}

	convType := req.Type
	if convType == "" {
		convType = model.ConversationTypeGroup
		if len(userIDs) == 2 {
			convType = model.ConversationTypePrivate
		}
	}
	if convType == model.ConversationTypePrivate && len(userIDs) != 2 {
		return nil, fmt.Errorf("%w: 单聊必须恰好两名成员", ErrValidation)
	}

	users, err := s.userRepo.GetUserByIds(ctx, userIDs)
	if err != nil {
		return nil, storeError("load users", err)
	}
	if len(users) != len(userIDs) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, missingUsers(userIDs, users))
	}

	now := s.now().UTC()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		Type:      convType,
		Name:      req.Name,
		Avatar:    req.Avatar,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	members := make([]*model.ConversationMember, 0, len(userIDs))
	for _, id := range userIDs {
		role := model.MemberRoleMember
		if id == createdBy {
			role = model.MemberRoleOwner
		}
		members = append(members, &model.ConversationMember{
			UserID:   id,
			Role:     role,
			JoinedAt: now,
		})
	}

	if err := s.convRepo.CreateConversation(ctx, conv, members); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.WarnContext(ctx, "create conversation references missing rows", "err", err)
			return nil, fmt.Errorf("%w: 成员用户不存在", ErrNotFound)
		}
		return nil, storeError("create conversation", err)
	}

	conv.Members = make([]model.ConversationMember, 0, len(members))
	byID := make(map[string]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, m := range members {
		row := *m
		row.User = *byID[m.UserID]
		conv.Members = append(conv.Members, row)
	}
	result := s.toConversationDTO(conv)

	for _, id := range userIDs {
		s.fanout.JoinConversation(ctx, id, conv.ID)
		s.fanout.ToUser(ctx, id, consts.EventConversationNew, result)
	}
	log.InfoContext(ctx, "conversation created", "conversation_id", conv.ID, "type", conv.Type, "members", len(userIDs))
	return result, nil
}

// ListConversations 会话列表，按最近活跃倒序
func (s *imServiceImpl) ListConversations(ctx context.Context, userID string) ([]*dto.ConversationListItem, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId 不能为空", ErrValidation)
	}

	rows, err := s.convRepo.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, storeError("list conversations", err)
	}

	items := make([]*dto.ConversationListItem, len(rows))
	for i, row := range rows {
		items[i] = s.toListItem(row)
	}

	// 并发补齐最后一条消息
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(latestMessageConcurrency)
	for i, row := range rows {
		if row.Conversation.LastMessageID == nil {
			continue
		}
		g.Go(func() error {
			latest, err := s.messageRepo.Latest(gctx, row.ConversationID)
			if err != nil {
				return err
			}
			if latest != nil {
				items[i].LastMessage = toMessageDTO(latest)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeError("load last messages", err)
	}
	return items, nil
}

func (s *imServiceImpl) toListItem(row *model.ConversationMember) *dto.ConversationListItem {
	conv := row.Conversation
	item := &dto.ConversationListItem{
		ID:          conv.ID,
		Type:        conv.Type,
		Name:        conv.Name,
		Avatar:      conv.Avatar,
		UnreadCount: row.UnreadCount,
		Pinned:      row.IsPinned == 1,
		Muted:       row.IsMuted == 1,
		UpdatedAt:   conv.UpdatedAt,
	}
	item.ParticipantIDs, item.Members = s.toMembers(conv.Members)
	return item
}

func (s *imServiceImpl) toConversationDTO(conv *model.Conversation) *dto.ConversationDTO {
	result := &dto.ConversationDTO{
		ID:        conv.ID,
		Type:      conv.Type,
		Name:      conv.Name,
		Avatar:    conv.Avatar,
		CreatedBy: conv.CreatedBy,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	result.ParticipantIDs, result.Members = s.toMembers(conv.Members)
	return result
}

// toMembers 成员资料由 copier 从 users 表映射，在线状态取自 presence
func (s *imServiceImpl) toMembers(rows []model.ConversationMember) ([]string, []dto.MemberDTO) {
	ids := make([]string, 0, len(rows))
	members := make([]dto.MemberDTO, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.UserID)

		var member dto.MemberDTO
		if err := copier.Copy(&member, &m.User); err != nil {
			log.Warn("copy member profile failed", "user_id", m.UserID, "err", err)
		}
		member.ID = m.UserID
		member.Role = m.Role
		member.IsOnline = util.PtrBool(s.presence.Get(m.UserID).Online)
		members = append(members, member)
	}
	return ids, members
}

// JoinConversation 加入会话，重复加入静默成功
// 单聊只允许原有成员重新进入房间
func (s *imServiceImpl) JoinConversation(ctx context.Context, convID, userID string) (*dto.ConversationDTO, error) {
	convID = strings.TrimSpace(convID)
	userID = strings.TrimSpace(userID)
	if convID == "" || userID == "" {
		return nil, fmt.Errorf("%w: conversationId 与 userId 不能为空", ErrValidation)
	}

	conv, err := s.getConversation(ctx, convID)
	if err != nil {
		return nil, err
	}

	joined := false
	if conv.Type == model.ConversationTypePrivate {
		if !hasMember(conv, userID) {
			return nil, fmt.Errorf("%w: 无法加入单聊", UnauthorizedError)
		}
	} else {
		joined, err = s.convRepo.JoinConversation(ctx, convID, userID, model.MemberRoleMember)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.WarnContext(ctx, "join references missing rows", "conversation_id", convID, "err", err)
				return nil, fmt.Errorf("%w: 会话 %s", ErrNotFound, convID)
			}
			return nil, storeError("join conversation", err)
		}
	}

	if joined && !hasMember(conv, userID) {
		row := model.ConversationMember{
			ConversationID: convID,
			UserID:         userID,
			Role:           model.MemberRoleMember,
		}
		if u, err := s.userRepo.GetUserById(ctx, userID); err == nil && u != nil {
			row.User = *u
		}
		conv.Members = append(conv.Members, row)
	}
	result := s.toConversationDTO(conv)

	s.fanout.JoinConversation(ctx, userID, convID)
	if joined {
		s.fanout.ToConversation(ctx, convID, consts.EventConversationJoin, &dto.ConversationJoinEvent{
			UserID:         userID,
			ConversationID: convID,
			Role:           model.MemberRoleMember,
			Timestamp:      s.now().UTC(),
		})
	}
	return result, nil
}

// MarkTyping 只推送不落库
func (s *imServiceImpl) MarkTyping(ctx context.Context, convID, userID string, isTyping bool) error {
	convID = strings.TrimSpace(convID)
	userID = strings.TrimSpace(userID)
	if convID == "" || userID == "" {
		return fmt.Errorf("%w: conversationId 与 userId 不能为空", ErrValidation)
	}
	if err := s.authorize(ctx, convID, userID); err != nil {
		return err
	}

	event := &dto.TypingEvent{
		UserID:         userID,
		ConversationID: convID,
		IsTyping:       isTyping,
		Timestamp:      s.now().UTC(),
	}
	s.fanout.ToConversation(ctx, convID, consts.EventTyping, event)
	s.fanout.Publish(ctx, consts.ChatTypingTopic(convID), event)
	return nil
}

// MarkSeen 标记会话全部消息已读
// 没有新标记的消息时不推送，重复调用无副作用；返回 nil 表示没有需要通知的变化
func (s *imServiceImpl) MarkSeen(ctx context.Context, convID, userID string) (*dto.SeenEvent, error) {
	convID = strings.TrimSpace(convID)
	userID = strings.TrimSpace(userID)
	if convID == "" || userID == "" {
		return nil, fmt.Errorf("%w: conversationId 与 userId 不能为空", ErrValidation)
	}
	if err := s.authorize(ctx, convID, userID); err != nil {
		return nil, err
	}

	modified, err := s.messageRepo.MarkSeen(ctx, convID, userID)
	if err != nil {
		return nil, storeError("mark seen", err)
	}

	if err := s.convRepo.ResetUnread(ctx, convID, userID); err != nil {
		log.ErrorContext(ctx, "reset unread failed", "conversation_id", convID, "user_id", userID, "err", err)
	}
	latest, err := s.messageRepo.Latest(ctx, convID)
	if err != nil {
		log.ErrorContext(ctx, "load latest message failed", "conversation_id", convID, "err", err)
		return nil, nil
	}
	if latest == nil {
		return nil, nil
	}
	messageID := latest.ID.Hex()
	if err := s.convRepo.UpdateLastReadMessage(ctx, convID, userID, messageID); err != nil {
		log.ErrorContext(ctx, "update last read message failed", "conversation_id", convID, "user_id", userID, "err", err)
	}

	if modified == 0 {
		return nil, nil
	}
	event := &dto.SeenEvent{
		UserID:         userID,
		ConversationID: convID,
		MessageID:      messageID,
		Timestamp:      s.now().UTC(),
	}
	s.fanout.ToConversation(ctx, convID, consts.EventSeenUpdate, event)
	s.fanout.Publish(ctx, consts.ChatSeenTopic(convID), event)
	return event, nil
}

// ListMessages 成员拉取会话历史，按时间正序
func (s *imServiceImpl) ListMessages(ctx context.Context, convID, userID string) ([]*dto.MessageDTO, error) {
	convID = strings.TrimSpace(convID)
	userID = strings.TrimSpace(userID)
	if convID == "" || userID == "" {
		return nil, fmt.Errorf("%w: conversationId 与 userId 不能为空", ErrValidation)
	}
	if err := s.authorize(ctx, convID, userID); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListByConversation(ctx, convID)
	if err != nil {
		return nil, storeError("list messages", err)
	}
	result := make([]*dto.MessageDTO, 0, len(messages))
	for _, m := range messages {
		result = append(result, toMessageDTO(m))
	}
	return result, nil
}

func (s *imServiceImpl) GetPresence(userID string) *dto.PresenceDTO {
	state := s.presence.Get(userID)
	result := &dto.PresenceDTO{
		UserID:   userID,
		IsOnline: state.Online,
	}
	if !state.LastSeen.IsZero() {
		lastSeen := state.LastSeen
		result.LastSeen = &lastSeen
	}
	return result
}

func (s *imServiceImpl) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.convRepo.ListConversationIDs(ctx, userID)
	if err != nil {
		return nil, storeError("list conversation ids", err)
	}
	return ids, nil
}

// authorize 成员直接放行；非成员时区分会话不存在与无权限
func (s *imServiceImpl) authorize(ctx context.Context, convID, userID string) error {
	ok, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil {
		return storeError("check membership", err)
	}
	if ok {
		return nil
	}
	if _, err := s.getConversation(ctx, convID); err != nil {
		return err
	}
	return fmt.Errorf("%w: 不是会话成员", UnauthorizedError)
}

func (s *imServiceImpl) getConversation(ctx context.Context, convID string) (*model.Conversation, error) {
	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 会话 %s", ErrNotFound, convID)
		}
		return nil, storeError("get conversation", err)
	}
	return conv, nil
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreFailure, op, err)
}

func hasMember(conv *model.Conversation, userID string) bool {
	for _, m := range conv.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func missingUsers(ids []string, users []*model.User) string {
	found := make(map[string]struct{}, len(users))
	for _, u := range users {
		found[u.ID] = struct{}{}
	}
	missing := make([]string, 0)
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return "用户不存在: " + strings.Join(missing, ",")
}

func toMessageDTO(m *mongo.Message) *dto.MessageDTO {
	seenBy := m.SeenBy
	if seenBy == nil {
		seenBy = []string{}
	}
	return &dto.MessageDTO{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           m.Type,
		SeenBy:         seenBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
