package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ai-spouse/webchat/backend/internal/analysis/emotion"
	"github.com/ai-spouse/webchat/backend/internal/model/chat"
	"github.com/ai-spouse/webchat/backend/internal/service/ai"
	chatservice "github.com/ai-spouse/webchat/backend/internal/service/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedCompleter struct {
	mu      sync.Mutex
	calls   [][]chat.Turn
	params  []ai.Params
	fail    error
	counter int
}

func (c *scriptedCompleter) Complete(_ context.Context, history []chat.Turn, params ai.Params) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, append([]chat.Turn(nil), history...))
	c.params = append(c.params, params)
	if c.fail != nil {
		return "", c.fail
	}
	c.counter++
	return fmt.Sprintf("reply-%d", c.counter), nil
}

func newService(t *testing.T, completer chatservice.Completer) (*chatservice.Service, *chatservice.Store) {
	t.Helper()
	store := chatservice.NewStore("persona")
	svc := chatservice.NewService(store, completer, chatservice.Config{
		HistoryLimit: 10,
		Model:        "gpt-4o-mini",
		MaxTokens:    500,
		Temperature:  0.7,
	}, zaptest.NewLogger(t))
	return svc, store
}

func TestSendCreatesSessionAndReusesHistory(t *testing.T) {
	completer := &scriptedCompleter{}
	svc, store := newService(t, completer)
	ctx := context.Background()

	first, err := svc.Send(ctx, "", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, "reply-1", first.Message)
	assert.False(t, first.Timestamp.IsZero())

	second, err := svc.Send(ctx, first.SessionID, "hi again")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	snap, ok := store.Snapshot(first.SessionID)
	require.True(t, ok)
	assert.Equal(t, []chat.Turn{
		chat.SystemTurn("persona"),
		chat.UserTurn("hello"),
		chat.AssistantTurn("reply-1"),
		chat.UserTurn("hi again"),
		chat.AssistantTurn("reply-2"),
	}, snap.Turns)

	// The provider sees the persona seed plus the full transcript so far.
	require.Len(t, completer.calls, 2)
	assert.Len(t, completer.calls[1], 4)
	assert.Equal(t, chat.RoleSystem, completer.calls[1][0].Role)
	assert.Equal(t, ai.Params{Model: "gpt-4o-mini", MaxTokens: 500, Temperature: 0.7}, completer.params[0])
}

func TestSendUsesCallerSuppliedUnknownID(t *testing.T) {
	svc, store := newService(t, &scriptedCompleter{})

	result, err := svc.Send(context.Background(), "client-chosen", "hello")
	require.NoError(t, err)
	assert.Equal(t, "client-chosen", result.SessionID)
	assert.Equal(t, 1, store.Count())
}

func TestSendTrimsToCap(t *testing.T) {
	completer := &scriptedCompleter{}
	svc, store := newService(t, completer)
	ctx := context.Background()

	const turns = 9
	for i := 0; i < turns; i++ {
		_, err := svc.Send(ctx, "s", fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}

	snap, ok := store.Snapshot("s")
	require.True(t, ok)
	require.Len(t, snap.Turns, 1+10)
	assert.Equal(t, chat.SystemTurn("persona"), snap.Turns[0])

	// Oldest-first: the last five exchanges survive.
	assert.Equal(t, chat.UserTurn("msg-4"), snap.Turns[1])
	assert.Equal(t, chat.AssistantTurn("reply-5"), snap.Turns[2])
	assert.Equal(t, chat.UserTurn("msg-8"), snap.Turns[9])
	assert.Equal(t, chat.AssistantTurn("reply-9"), snap.Turns[10])

	// The outgoing request is bounded too.
	for _, call := range completer.calls {
		assert.LessOrEqual(t, len(call), 1+10)
		assert.Equal(t, chat.RoleSystem, call[0].Role)
	}
}

func TestSendRejectsBlankMessage(t *testing.T) {
	completer := &scriptedCompleter{}
	svc, store := newService(t, completer)

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := svc.Send(context.Background(), "s", msg)
		assert.ErrorIs(t, err, chatservice.ErrEmptyMessage)
	}

	assert.Zero(t, store.Count())
	assert.Empty(t, completer.calls)
}

func TestSendTrimsMessageWhitespace(t *testing.T) {
	svc, store := newService(t, &scriptedCompleter{})

	_, err := svc.Send(context.Background(), "s", "  hello  ")
	require.NoError(t, err)

	snap, _ := store.Snapshot("s")
	assert.Equal(t, "hello", snap.Turns[1].Content)
}

func TestSendProviderFailureKeepsUserTurn(t *testing.T) {
	completer := &scriptedCompleter{fail: &ai.ProviderError{Provider: "azure", Err: errors.New("quota exceeded")}}
	svc, store := newService(t, completer)

	_, err := svc.Send(context.Background(), "s", "hello")
	require.Error(t, err)

	var providerErr *ai.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Contains(t, err.Error(), "quota exceeded")

	assert.Equal(t, 1, svc.Status().ActiveSessions)
	snap, ok := store.Snapshot("s")
	require.True(t, ok)
	assert.Equal(t, []chat.Turn{chat.SystemTurn("persona"), chat.UserTurn("hello")}, snap.Turns)
}

func TestSendWrapsUntypedGatewayErrors(t *testing.T) {
	svc, _ := newService(t, &scriptedCompleter{fail: errors.New("socket closed")})

	_, err := svc.Send(context.Background(), "s", "hello")

	var providerErr *ai.ProviderError
	require.ErrorAs(t, err, &providerErr)
}

func TestSendReportsEmotion(t *testing.T) {
	completer := completerFunc(func(context.Context, []chat.Turn, ai.Params) (string, error) {
		return "[happy] 나도 사랑해 여보~", nil
	})
	svc, _ := newService(t, completer)

	result, err := svc.Send(context.Background(), "", "사랑해")
	require.NoError(t, err)
	assert.Equal(t, emotion.Happy, result.Emotion.Emotion)
	assert.Equal(t, "[happy] 나도 사랑해 여보~", result.Message)
}

func TestSendConcurrentSameSession(t *testing.T) {
	completer := &scriptedCompleter{}
	svc := chatservice.NewService(chatservice.NewStore("persona"), completer, chatservice.Config{HistoryLimit: 100}, nil)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := svc.Send(context.Background(), "shared", fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, ok := svc.History("shared")
	require.True(t, ok)
	require.Len(t, snap.Turns, 1+2*workers)
	for i := 1; i < len(snap.Turns); i += 2 {
		assert.Equal(t, chat.RoleUser, snap.Turns[i].Role)
		assert.Equal(t, chat.RoleAssistant, snap.Turns[i+1].Role)
	}
}

func TestResetIssuesFreshID(t *testing.T) {
	svc, store := newService(t, &scriptedCompleter{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Send(ctx, "X", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	require.Equal(t, 1, store.Count())

	result := svc.Reset(ctx, "X")
	assert.NotEqual(t, "X", result.SessionID)
	assert.NotEmpty(t, result.SessionID)
	assert.Zero(t, store.Count())

	_, ok := store.Snapshot("X")
	assert.False(t, ok)
	_, ok = store.Snapshot(result.SessionID)
	assert.False(t, ok, "reset must not pre-create the new session")
}

func TestResetWithoutSession(t *testing.T) {
	svc, _ := newService(t, &scriptedCompleter{})

	a := svc.Reset(context.Background(), "")
	b := svc.Reset(context.Background(), "unknown")
	assert.NotEmpty(t, a.SessionID)
	assert.NotEqual(t, "unknown", b.SessionID)
}

func TestResetNeverReturnsSuppliedID(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	store := chatservice.NewStore("persona", chatservice.WithIDGenerator(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))
	svc := chatservice.NewService(store, &scriptedCompleter{}, chatservice.Config{}, nil)

	assert.Equal(t, "fresh", svc.Reset(context.Background(), "dup").SessionID)
}

func TestStatus(t *testing.T) {
	svc, _ := newService(t, &scriptedCompleter{})

	health := svc.Status()
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.ActiveSessions)

	_, err := svc.Send(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Status().ActiveSessions)
}

type completerFunc func(context.Context, []chat.Turn, ai.Params) (string, error)

func (f completerFunc) Complete(ctx context.Context, history []chat.Turn, params ai.Params) (string, error) {
	return f(ctx, history, params)
}
