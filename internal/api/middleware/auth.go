package middleware

import (
	"TelegramMini/internal/pkg/consts"
	"TelegramMini/internal/pkg/response"
	"TelegramMini/internal/pkg/security"
	"context"
	log "log/slog"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 负责验证 JWT 并将用户身份信息注入 Context
func AuthMiddleware(verifier security.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			response.Fail(c, response.Unauthorized, "Token 缺失或格式错误")
			c.Abort()
			return
		}

		userID, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			log.WarnContext(c.Request.Context(), "token rejected", "err", err)
			response.Fail(c, response.Unauthorized, "Token 无效或已过期")
			c.Abort()
			return
		}

		c.Set(consts.UserIDKey, userID)
		newCtx := context.WithValue(c.Request.Context(), consts.UserIDKey, userID)
		c.Request = c.Request.WithContext(newCtx)

		c.Next()
	}
}

// CurrentUserID 取鉴权中间件注入的用户 ID
func CurrentUserID(c *gin.Context) string {
	return c.GetString(consts.UserIDKey)
}
