package handler

import (
	"TelegramMini/internal/pkg/response"
	"TelegramMini/internal/service"
	"strings"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	imService service.IMService
}

func NewPresenceHandler(imService service.IMService) *PresenceHandler {
	return &PresenceHandler{imService: imService}
}

// GetPresence 查询用户在线状态
func (s *PresenceHandler) GetPresence(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	response.Success(c, s.imService.GetPresence(userID))
}
