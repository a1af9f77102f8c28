package router

import (
	"github.com/labstack/echo/v4"

	"lokapasar/internal/adapter/api/handler"
	"lokapasar/internal/adapter/api/middleware"
)

// SetupChatRouter registers the REST chat surface. These routes duplicate
// the websocket read paths for clients that poll.
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	group := e.Group("/v1/conversations")
	group.Use(authMiddleware.Authenticate)

	group.POST("", chatHandler.CreateConversation)
	group.GET("", chatHandler.ListConversations)
	group.GET("/:id", chatHandler.GetConversation)
	group.DELETE("/:id", chatHandler.DeactivateConversation)
	group.PUT("/:id/read", chatHandler.MarkRead)

	group.POST("/:id/messages", chatHandler.SendMessage)
	group.GET("/:id/messages", chatHandler.ListMessages)
}
