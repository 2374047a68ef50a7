package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chathandler "github.com/ai-spouse/webchat/backend/internal/handler/chat"
	chatService "github.com/ai-spouse/webchat/backend/internal/service/chat"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// 帧类型
const (
	TypeChat   = "chat"
	TypeReset  = "reset"
	TypeHealth = "health"
	TypeError  = "error"
)

// Frame 客户端发来的消息
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatReply struct {
	Type string `json:"type"`
	chathandler.ChatResponse
}

type resetReply struct {
	Type string `json:"type"`
	chathandler.ResetResponse
}

type healthReply struct {
	Type string `json:"type"`
	chatService.Health
}

type errorReply struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Handler serves the chat operations over a single WebSocket connection.
type Handler struct {
	chatSvc  *chatService.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.Named("handler.ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type connection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *connection) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{conn: conn}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(ctx, conn)

	h.logger.Debug("connection opened", zap.String("remote", r.RemoteAddr))
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.writeJSON(h.dispatch(ctx, frame)); err != nil {
			h.logger.Warn("write failed", zap.Error(err))
			return
		}
	}
}

// dispatch 处理单个帧并返回应答
func (h *Handler) dispatch(ctx context.Context, frame Frame) any {
	switch frame.Type {
	case TypeChat:
		result, err := h.chatSvc.Send(ctx, frame.SessionID, frame.Message)
		if err != nil {
			_, message := chathandler.ErrorStatus(err)
			h.logger.Debug("chat frame failed", zap.String("session_id", frame.SessionID), zap.Error(err))
			return errorReply{Type: TypeError, Error: message}
		}
		return chatReply{Type: TypeChat, ChatResponse: chathandler.NewChatResponse(result)}
	case TypeReset:
		result := h.chatSvc.Reset(ctx, frame.SessionID)
		return resetReply{Type: TypeReset, ResetResponse: chathandler.NewResetResponse(result)}
	case TypeHealth:
		return healthReply{Type: TypeHealth, Health: h.chatSvc.Status()}
	default:
		return errorReply{Type: TypeError, Error: "unsupported message type: " + frame.Type}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
