package handler

import (
	"TelegramMini/internal/api/dto"
	"TelegramMini/internal/api/middleware"
	"TelegramMini/internal/pkg/response"
	"TelegramMini/internal/service"

	"github.com/gin-gonic/gin"
)

type IMHandler struct {
	imService service.IMService
}

func NewIMHandler(imService service.IMService) *IMHandler {
	return &IMHandler{imService: imService}
}

// CreateConversation 创建会话
func (s *IMHandler) CreateConversation(c *gin.Context) {
	var req dto.CreateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	req.CreatedBy = middleware.CurrentUserID(c)

	res, err := s.imService.CreateConversation(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListConversations 获取会话列表
func (s *IMHandler) ListConversations(c *gin.Context) {
	res, err := s.imService.ListConversations(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// JoinConversation 加入会话
func (s *IMHandler) JoinConversation(c *gin.Context) {
	res, err := s.imService.JoinConversation(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// SendMessage 发送消息接口，会话 ID 以路径为准
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	req.ConversationID = c.Param("id")
	req.SenderID = middleware.CurrentUserID(c)

	res, err := s.imService.SendMessage(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListMessages 获取历史消息
func (s *IMHandler) ListMessages(c *gin.Context) {
	res, err := s.imService.ListMessages(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkTyping 正在输入
func (s *IMHandler) MarkTyping(c *gin.Context) {
	var req dto.TypingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	err := s.imService.MarkTyping(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), req.IsTyping)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// MarkSeen 标记已读接口
func (s *IMHandler) MarkSeen(c *gin.Context) {
	res, err := s.imService.MarkSeen(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
