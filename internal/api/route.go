package api

import (
	"TelegramMini/internal/api/config"
	"TelegramMini/internal/api/middleware"
	"TelegramMini/internal/pkg/logger"
	"TelegramMini/internal/pkg/security"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup, verifier security.Verifier, logCfg config.LogstashConfig) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r, logCfg)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		imGroup := apiGroup.Group("/im")
		{
			// WS 在升级前通过 query token 自行鉴权
			imGroup.GET("/ws", group.WsHandler.Connect)

			authGroup := imGroup.Group("/conversations")
			authGroup.Use(middleware.AuthMiddleware(verifier))
			{
				authGroup.POST("", group.IMHandler.CreateConversation)
				authGroup.GET("", group.IMHandler.ListConversations)
				authGroup.POST("/:id/join", group.IMHandler.JoinConversation)
				authGroup.GET("/:id/messages", group.IMHandler.ListMessages)
				authGroup.POST("/:id/messages", group.IMHandler.SendMessage)
				authGroup.POST("/:id/typing", group.IMHandler.MarkTyping)
				authGroup.POST("/:id/seen", group.IMHandler.MarkSeen)
			}
		}

		presenceGroup := apiGroup.Group("/presence")
		presenceGroup.Use(middleware.AuthMiddleware(verifier))
		{
			presenceGroup.GET("/:user_id", group.PresenceHandler.GetPresence)
		}
	}

	return r
}
