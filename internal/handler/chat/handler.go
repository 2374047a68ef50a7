package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ai-spouse/webchat/backend/internal/analysis/emotion"
	"github.com/ai-spouse/webchat/backend/internal/service/ai"
	chatService "github.com/ai-spouse/webchat/backend/internal/service/chat"
	"github.com/ai-spouse/webchat/backend/pkg/utils"
)

// 返回给前端的提示文案。
const (
	MsgEmptyMessage   = "메시지가 비어있습니다."
	MsgResetDone      = "대화가 초기화되었습니다."
	MsgInvalidBody    = "잘못된 요청 형식입니다."
	MsgInternalError  = "서버 내부 오류가 발생했습니다."
	msgProviderPrefix = "AI 응답 생성 중 오류: "
)

// ChatRequest 聊天请求体
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse 聊天成功响应
type ChatResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Emotion   *emotion.Decision `json:"emotion,omitempty"`
}

// ResetRequest 重置请求体
type ResetRequest struct {
	SessionID string `json:"session_id"`
}

// ResetResponse 重置成功响应
type ResetResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{chatSvc: chatSvc, logger: logger.Named("handler.chat")}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/reset", h.handleReset)
	r.Get("/health", h.handleHealth)
}

// handleChat 执行一轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload ChatRequest
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, MsgInvalidBody)
		return
	}

	result, err := h.chatSvc.Send(r.Context(), payload.SessionID, payload.Message)
	if err != nil {
		status, message := ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("chat turn failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		}
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, NewChatResponse(result))
}

// handleReset 清空会话并返回新的会话ID
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var payload ResetRequest
	if err := decodeBody(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, MsgInvalidBody)
		return
	}

	result := h.chatSvc.Reset(r.Context(), payload.SessionID)
	utils.RespondJSON(w, http.StatusOK, NewResetResponse(result))
}

// handleHealth 服务状态
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Status())
}

// NewChatResponse converts a service result into the wire body.
func NewChatResponse(result chatService.Result) ChatResponse {
	decision := result.Emotion
	return ChatResponse{
		Success:   true,
		Message:   result.Message,
		SessionID: result.SessionID,
		Timestamp: result.Timestamp,
		Emotion:   &decision,
	}
}

// NewResetResponse converts a reset result into the wire body.
func NewResetResponse(result chatService.ResetResult) ResetResponse {
	return ResetResponse{Success: true, SessionID: result.SessionID, Message: MsgResetDone}
}

// ErrorStatus maps a chat error to the HTTP status and user-facing message.
func ErrorStatus(err error) (int, string) {
	var providerErr *ai.ProviderError
	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		return http.StatusBadRequest, MsgEmptyMessage
	case errors.As(err, &providerErr):
		return http.StatusInternalServerError, msgProviderPrefix + providerErr.Error()
	default:
		return http.StatusInternalServerError, MsgInternalError
	}
}

// decodeBody 解析JSON请求体，空请求体视为空对象。
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
