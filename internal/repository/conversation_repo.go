package repository

import (
	"TelegramMini/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQL 外键约束失败
const mysqlErrNoReferencedRow = 1452

type ConversationRepo interface {
	CreateConversation(ctx context.Context, conv *model.Conversation, members []*model.ConversationMember) error
	GetConversation(ctx context.Context, convID string) (*model.Conversation, error)
	IsMember(ctx context.Context, convID, userID string) (bool, error)
	JoinConversation(ctx context.Context, convID, userID, role string) (bool, error)

	UpdateLastReadMessage(ctx context.Context, convID, userID, messageID string) error
	IncrementUnread(ctx context.Context, convID, excludeUserID string) error
	ResetUnread(ctx context.Context, convID, userID string) error
	TouchConversation(ctx context.Context, convID, messageID string, at time.Time) error

	ListConversationsForUser(ctx context.Context, userID string) ([]*model.ConversationMember, error)
	ListConversationIDs(ctx context.Context, userID string) ([]string, error)
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// CreateConversation 开启事务创建会话及初始成员，重复成员只保留一行
func (s *conversationRepoImpl) CreateConversation(ctx context.Context, conv *model.Conversation, members []*model.ConversationMember) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(conv).Error; err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(members))
		rows := make([]*model.ConversationMember, 0, len(members))
		for _, m := range members {
			if _, ok := seen[m.UserID]; ok {
				continue
			}
			seen[m.UserID] = struct{}{}
			m.ConversationID = conv.ID
			if m.JoinedAt.IsZero() {
				m.JoinedAt = conv.CreatedAt
			}
			rows = append(rows, m)
		}
		if len(rows) == 0 {
			return nil
		}

		err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rows).Error
		return mapReferenceError(err)
	})
}

// GetConversation 根据会话 ID 获取会话，附带成员列表
func (s *conversationRepoImpl) GetConversation(ctx context.Context, convID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC")
		}).
		Preload("Members.User").
		First(&conv, "id = ?", convID).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// IsMember 检查用户是否是会话成员
func (s *conversationRepoImpl) IsMember(ctx context.Context, convID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	return count > 0, err
}

// JoinConversation 幂等加入，已是成员时静默返回 false
func (s *conversationRepoImpl) JoinConversation(ctx context.Context, convID, userID, role string) (bool, error) {
	member := &model.ConversationMember{
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       time.Now(),
	}
	result := s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(member)
	if result.Error != nil {
		return false, mapReferenceError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateLastReadMessage 更新用户已读位置
func (s *conversationRepoImpl) UpdateLastReadMessage(ctx context.Context, convID, userID, messageID string) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		UpdateColumn("last_read_message_id", messageID).Error
}

// IncrementUnread 除发送者外所有成员未读数 +1
func (s *conversationRepoImpl) IncrementUnread(ctx context.Context, convID, excludeUserID string) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id <> ?", convID, excludeUserID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
}

// ResetUnread 清空未读数
func (s *conversationRepoImpl) ResetUnread(ctx context.Context, convID, userID string) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		UpdateColumn("unread_count", 0).Error
}

// TouchConversation 刷新最后一条消息指针，较旧的消息不会覆盖较新的指针
func (s *conversationRepoImpl) TouchConversation(ctx context.Context, convID, messageID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", convID, at).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_message_at": at,
			"updated_at":      at,
		}).Error
}

// ListConversationsForUser 联表查询用户所在会话，预加载成员与用户资料，按最近活跃倒序
func (s *conversationRepoImpl) ListConversationsForUser(ctx context.Context, userID string) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	err := s.db.WithContext(ctx).Table("conversation_members m").
		Select("m.*").
		Joins("JOIN conversations c ON m.conversation_id = c.id").
		Where("m.user_id = ?", userID).
		Order("c.updated_at DESC").
		Preload("Conversation").
		Preload("Conversation.Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC")
		}).
		Preload("Conversation.Members.User").
		Find(&members).Error
	return members, err
}

// ListConversationIDs 获取用户参与的所有会话 ID
func (s *conversationRepoImpl) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	return ids, err
}

// mapReferenceError 外键失败说明引用的会话或用户不存在
func mapReferenceError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrNoReferencedRow {
		return fmt.Errorf("%w: %s", gorm.ErrRecordNotFound, mysqlErr.Message)
	}
	return err
}
