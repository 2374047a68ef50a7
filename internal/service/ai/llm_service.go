package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ai-spouse/webchat/backend/internal/model/chat"
)

// DefaultTimeout bounds a provider call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

var (
	// ErrProviderUnavailable is returned when no completion provider is configured.
	ErrProviderUnavailable = errors.New("completion provider not configured")
	// ErrEmptyCompletion is returned when the provider produced no text.
	ErrEmptyCompletion = errors.New("completion provider returned an empty reply")
)

// Params 单次补全调用的生成参数。
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// ProviderError wraps any failure originating from the completion provider.
type ProviderError struct {
	Provider string
	Timeout  bool
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Service forwards a conversation to the configured chat model.
type Service struct {
	provider string
	timeout  time.Duration
	chain    compose.Runnable[[]*schema.Message, *schema.Message]
	logger   *zap.Logger
}

// NewService compiles a one-node eino chain around chatModel.
func NewService(ctx context.Context, provider string, chatModel model.BaseChatModel, timeout time.Duration, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		provider: provider,
		timeout:  timeout,
		chain:    runnable,
		logger:   logger.Named("ai"),
	}, nil
}

// Complete sends history to the provider and returns the generated reply.
// Every failure, including a timeout, is reported as *ProviderError.
func (s *Service) Complete(ctx context.Context, history []chat.Turn, params Params) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := []model.Option{model.WithTemperature(params.Temperature)}
	if params.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(params.MaxTokens))
	}
	if params.Model != "" {
		opts = append(opts, model.WithModel(params.Model))
	}

	started := time.Now()
	response, err := s.chain.Invoke(callCtx, ToMessages(history), compose.WithChatModelOption(opts...))
	elapsed := time.Since(started)

	if err != nil {
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		s.logger.Warn("completion failed",
			zap.String("provider", s.provider),
			zap.Int("turns", len(history)),
			zap.Duration("elapsed", elapsed),
			zap.Bool("timeout", timedOut),
			zap.Error(err))
		return "", &ProviderError{Provider: s.provider, Timeout: timedOut, Err: err}
	}

	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", &ProviderError{Provider: s.provider, Err: ErrEmptyCompletion}
	}

	fields := []zap.Field{
		zap.String("provider", s.provider),
		zap.Int("turns", len(history)),
		zap.Int("length", len(response.Content)),
		zap.Duration("elapsed", elapsed),
	}
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		fields = append(fields, zap.Int("total_tokens", response.ResponseMeta.Usage.TotalTokens))
	}
	s.logger.Debug("completion generated", fields...)

	return response.Content, nil
}

// Unavailable is the gateway used when no provider credentials are configured.
type Unavailable struct {
	Provider string
}

// Complete always fails with ErrProviderUnavailable.
func (u Unavailable) Complete(context.Context, []chat.Turn, Params) (string, error) {
	return "", &ProviderError{Provider: u.Provider, Err: ErrProviderUnavailable}
}

// ToMessages converts transcript turns to eino messages.
func ToMessages(history []chat.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case chat.RoleSystem:
			messages = append(messages, schema.SystemMessage(turn.Content))
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}
