package azure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *ChatModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := NewChatModel(Config{
		Endpoint:   srv.URL + "/",
		APIKey:     "secret",
		Deployment: "gpt-4o-mini",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return m
}

func TestGenerateSendsConversation(t *testing.T) {
	var got chatRequest
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4o-mini/chat/completions", r.URL.Path)
		assert.Equal(t, DefaultAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"[happy] 안녕 여보~"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`))
	})

	out, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("persona"),
		schema.UserMessage("hello"),
	}, model.WithMaxTokens(500), model.WithTemperature(0.7))
	require.NoError(t, err)

	assert.Equal(t, "[happy] 안녕 여보~", out.Content)
	assert.Equal(t, schema.Assistant, out.Role)
	require.NotNil(t, out.ResponseMeta)
	assert.Equal(t, 17, out.ResponseMeta.Usage.TotalTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 500, *got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-6)
}

func TestGenerateSurfacesProviderMessage(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"429","message":"Rate limit is exceeded."}}`))
	})

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "Rate limit is exceeded.")
}

func TestGenerateRejectsEmptyChoices(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerateHonoursContext(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewChatModelValidation(t *testing.T) {
	_, err := NewChatModel(Config{APIKey: "k", Deployment: "d"})
	assert.Error(t, err)

	_, err = NewChatModel(Config{Endpoint: "https://example.openai.azure.com", Deployment: "d"})
	assert.Error(t, err)

	_, err = NewChatModel(Config{Endpoint: "https://example.openai.azure.com", APIKey: "k"})
	assert.Error(t, err)

	m, err := NewChatModel(Config{Endpoint: "https://example.openai.azure.com", APIKey: "k", Deployment: "d", APIVersion: "2024-06-01"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.openai.azure.com/openai/deployments/d/chat/completions?api-version=2024-06-01", m.completionsURL())
}
