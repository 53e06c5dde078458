package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ignatzorin/freelance-contracts/internal/service"
	"github.com/ignatzorin/freelance-contracts/internal/ws"
)

var (
	errTokenRequired = errors.New("access токен обязателен")
	errTokenInvalid  = errors.New("невалидный access токен")
)

// WSHandler поднимает WebSocket соединения для live-доставки уведомлений
// о платёжных событиях и переходах контрактов.
type WSHandler struct {
	hub      *ws.Hub
	tokens   *service.TokenManager
	upgrader websocket.Upgrader
}

// NewWSHandler создаёт новый хэндлер.
func NewWSHandler(hub *ws.Hub, tokens *service.TokenManager) *WSHandler {
	return &WSHandler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle обслуживает GET /api/ws?token=...
// Браузерный WebSocket API не позволяет выставить Authorization заголовок,
// поэтому access токен передаётся query-параметром.
func (h *WSHandler) Handle(c *gin.Context) {
	userID, err := h.authenticate(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	client := ws.NewClient(conn, h.hub, userID)
	h.hub.Register(client)

	client.Run(c.Request.Context())
}

func (h *WSHandler) authenticate(rawToken string) (uuid.UUID, error) {
	if rawToken == "" {
		return uuid.Nil, errTokenRequired
	}
	userID, _, err := h.tokens.ParseAccess(rawToken)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, errTokenInvalid
	}
	return userID, nil
}
