package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ai-spouse/webchat/backend/internal/analysis/emotion"
	"github.com/ai-spouse/webchat/backend/internal/model/chat"
	"github.com/ai-spouse/webchat/backend/internal/service/ai"
)

// DefaultHistoryLimit is the number of turns kept besides the system turn.
const DefaultHistoryLimit = 10

// ErrEmptyMessage rejects a chat request whose message is blank.
var ErrEmptyMessage = errors.New("message is empty")

// Completer produces the assistant reply for a transcript.
type Completer interface {
	Complete(ctx context.Context, history []chat.Turn, params ai.Params) (string, error)
}

// Config 控制单轮对话的参数。
type Config struct {
	HistoryLimit int
	Model        string
	MaxTokens    int
	Temperature  float32
}

// Result is the outcome of one successful chat turn.
type Result struct {
	Message   string
	SessionID string
	Timestamp time.Time
	Emotion   emotion.Decision
}

// ResetResult carries the identifier issued by Reset.
type ResetResult struct {
	SessionID string
}

// Health reports liveness and the number of active sessions.
type Health struct {
	Status         string    `json:"status"`
	ActiveSessions int       `json:"active_sessions"`
	Timestamp      time.Time `json:"timestamp"`
}

// Service encapsulates conversation state management.
type Service struct {
	store     *Store
	completer Completer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the store to a completion gateway.
func NewService(store *Store, completer Completer, cfg Config, logger *zap.Logger) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		completer: completer,
		cfg:       cfg,
		logger:    logger.Named("chat"),
		now:       time.Now,
	}
}

// Send runs one chat turn. The session stays locked for the whole turn so
// concurrent requests for the same id are applied one after another. On a
// provider failure the user turn is kept in the history.
func (s *Service) Send(ctx context.Context, sessionID, message string) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{}, ErrEmptyMessage
	}

	sess, created := s.store.Acquire(sessionID)
	defer sess.Release()

	if created {
		s.logger.Info("session created", zap.String("session_id", sess.ID))
	}

	sess.Append(chat.UserTurn(message))
	if dropped := sess.Trim(s.cfg.HistoryLimit); dropped > 0 {
		s.logger.Debug("history trimmed", zap.String("session_id", sess.ID), zap.Int("dropped", dropped))
	}

	reply, err := s.completer.Complete(ctx, sess.History(), ai.Params{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		s.logger.Error("completion failed", zap.String("session_id", sess.ID), zap.Error(err))
		var providerErr *ai.ProviderError
		if !errors.As(err, &providerErr) {
			err = &ai.ProviderError{Provider: "unknown", Err: err}
		}
		return Result{}, fmt.Errorf("generate reply for session %s: %w", sess.ID, err)
	}

	sess.Append(chat.AssistantTurn(reply))
	sess.Trim(s.cfg.HistoryLimit)

	decision := emotion.Analyze(reply)
	s.logger.Info("reply generated",
		zap.String("session_id", sess.ID),
		zap.Int("turns", sess.Len()),
		zap.String("emotion", string(decision.Emotion)))

	return Result{
		Message:   reply,
		SessionID: sess.ID,
		Timestamp: s.now(),
		Emotion:   decision,
	}, nil
}

// Reset drops the supplied session and issues a new identifier. The new
// session is created lazily by the next Send.
func (s *Service) Reset(_ context.Context, sessionID string) ResetResult {
	if sessionID != "" && s.store.Delete(sessionID) {
		s.logger.Info("session reset", zap.String("session_id", sessionID))
	}

	newID := s.store.NewID()
	for newID == sessionID {
		newID = s.store.NewID()
	}
	return ResetResult{SessionID: newID}
}

// Status reports service health.
func (s *Service) Status() Health {
	return Health{
		Status:         "ok",
		ActiveSessions: s.store.Count(),
		Timestamp:      s.now(),
	}
}

// History returns a copy of the stored transcript for sessionID.
func (s *Service) History(sessionID string) (chat.Snapshot, bool) {
	return s.store.Snapshot(sessionID)
}
