package handlers

import (
	"context"
	"net/http"
	"time"

	"socialchat/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport - запись в gorilla-соединение; пишет только WritePump
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteFrame(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

type ChatHandler struct {
	chat       *services.ChatService
	pingPeriod time.Duration
	log        *zap.Logger
}

func NewChatHandler(chat *services.ChatService, pingPeriod time.Duration, log *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, pingPeriod: pingPeriod, log: log}
}

// WS - websocket endpoint чата: join/leave/send от клиента, message/joined/left/error от сервера
func (h *ChatHandler) WS(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	// после hijack контекст запроса не отражает жизнь соединения
	ctx := context.WithoutCancel(c.Request.Context())
	conn, err := h.chat.Open(ctx, &wsTransport{conn: wsConn}, userID)
	if err != nil {
		h.log.Warn("websocket open rejected", zap.Int64("user_id", userID), zap.Error(err))
		_ = wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, services.ErrorCode(err)),
			time.Now().Add(writeWait))
		_ = wsConn.Close()
		return
	}
	defer h.chat.Disconnect(ctx, conn)

	go conn.WritePump(h.pingPeriod)
	h.readPump(ctx, wsConn, conn)
}

func (h *ChatHandler) readPump(ctx context.Context, wsConn *websocket.Conn, conn *services.Connection) {
	pongWait := h.pingPeriod * 10 / 9
	wsConn.SetReadLimit(maxMessageSize)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Uint64("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		h.chat.HandleRaw(ctx, conn, data)
	}
}
