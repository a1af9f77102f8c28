package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"lokapasar/internal/infrastructure/firebase"
	ws "lokapasar/internal/infrastructure/websocket"
	"lokapasar/internal/usecase"
	"lokapasar/pkg/logger"
)

type WebSocketHandler struct {
	wsManager   *ws.Manager
	authClient  *firebase.AuthClient
	chatUseCase *usecase.ChatUseCase
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // restrict in production
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, authClient *firebase.AuthClient, chatUseCase *usecase.ChatUseCase) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:   wsManager,
		authClient:  authClient,
		chatUseCase: chatUseCase,
	}
}

// HandleWebSocket authenticates and upgrades a connection. Token
// verification happens before the upgrade: a bad token means no event
// handlers are ever registered for the connection.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication token is required")
	}

	userID, err := h.authClient.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("websocket upgrade failed for user %s: %v", userID, err)
		return err
	}

	client := &ws.Client{
		ConnectionID: uuid.New().String(),
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan []byte, 256),
	}

	go client.WritePump()
	h.chatUseCase.Connect(c.Request().Context(), client)
	go client.ReadPump(h.wsManager)

	return nil
}
