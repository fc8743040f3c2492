package orchestrator

import (
	"context"
	"testing"
	"time"

	"criabot-gateway/internal/apperr"
	"criabot-gateway/internal/botstore"
	"criabot-gateway/internal/cache"
	"criabot-gateway/internal/chat"
	"criabot-gateway/internal/ragsdk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBotStore struct {
	bots   map[string]botstore.Bot
	params map[int]chat.BotParameters
}

func (s stubBotStore) RetrieveBot(_ context.Context, name string) (botstore.Bot, error) {
	b, ok := s.bots[name]
	if !ok {
		return botstore.Bot{}, apperr.New(apperr.ErrBotNotFound, "no such bot")
	}
	return b, nil
}

func (s stubBotStore) RetrieveBotParams(_ context.Context, botID int) (chat.BotParameters, error) {
	p, ok := s.params[botID]
	if !ok {
		return chat.BotParameters{}, apperr.New(apperr.ErrBotNotFound, "no such bot params")
	}
	return p, nil
}

func (s stubBotStore) BotExists(_ context.Context, names ...string) (bool, error) {
	for _, n := range names {
		if _, ok := s.bots[n]; !ok {
			return false, nil
		}
	}
	return true, nil
}

type stubRAGClient struct{}

func (stubRAGClient) SearchGroup(_ context.Context, groupName string, _ ragsdk.SearchGroupConfig) (ragsdk.GroupSearchResponse, error) {
	return ragsdk.GroupSearchResponse{GroupName: groupName}, nil
}

func (stubRAGClient) About(_ context.Context, _ string) (ragsdk.GroupInfo, error) {
	return ragsdk.GroupInfo{LLMModelID: 1, RerankModelID: 1, EmbeddingModelID: 1}, nil
}

func (stubRAGClient) UploadContent(_ context.Context, _ string, _ ragsdk.ContentUpload, _ bool) error {
	return nil
}

func (stubRAGClient) DeleteContent(_ context.Context, _, _ string) error { return nil }

func (stubRAGClient) ListContent(_ context.Context, _ string) ([]string, error) { return nil, nil }

func (stubRAGClient) Rerank(_ context.Context, _ int, _ string, _ []ragsdk.TextNodeWithScore, _ int, _ float64) (ragsdk.RerankResponse, error) {
	return ragsdk.RerankResponse{}, nil
}

func (stubRAGClient) Chat(_ context.Context, _ int, _ []ragsdk.Message, _ ragsdk.ChatParams) (ragsdk.ChatCompletionResult, error) {
	return ragsdk.ChatCompletionResult{Content: "llm reply"}, nil
}

func (stubRAGClient) RelatedPrompts(_ context.Context, _ int, _, _ string, _ ragsdk.RelatedPromptsParams) (ragsdk.RelatedPromptsResult, error) {
	return ragsdk.RelatedPromptsResult{}, nil
}

func newTestOrchestrator() *Orchestrator {
	bots := stubBotStore{
		bots: map[string]botstore.Bot{
			"main": {ID: 1, Name: "main"},
			"peer": {ID: 2, Name: "peer"},
		},
		params: map[int]chat.BotParameters{
			1: {
				MaxInputTokens:   2000,
				MaxReplyTokens:   1024,
				TopK:             10,
				MinK:             0.5,
				TopN:             3,
				MinN:             0.7,
				NoContextMessage: "I don't know.",
				SystemMessage:    "you are a helpful bot",
			},
		},
	}
	return New(bots, cache.NewMemoryCache(), stubRAGClient{}, stubCounter{}, time.Hour)
}

type stubCounter struct{}

func (stubCounter) Count(s string) int { return len(s) }

func TestStartEndExistsLifecycle(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()

	chatID, err := o.StartChat(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, chatID)

	exists, err := o.ChatExists(ctx, chatID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, o.EndChat(ctx, chatID))

	exists, err = o.ChatExists(ctx, chatID)
	require.NoError(t, err)
	assert.False(t, exists)

	err = o.EndChat(ctx, chatID)
	require.Error(t, err)
	appErr, ok := apperr.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrChatNotFound, appErr.Code)
}

func TestEndChatMissingReturnsChatNotFound(t *testing.T) {
	o := newTestOrchestrator()
	err := o.EndChat(context.Background(), "missing")
	require.Error(t, err)
	appErr, ok := apperr.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrChatNotFound, appErr.Code)
}

func TestSendPersistsHistoryAcrossTurns(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()

	chatID, err := o.StartChat(ctx)
	require.NoError(t, err)

	reply, err := o.Send(ctx, chatID, "main", nil, "hello there", nil)
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", reply.Content.Content)

	history, err := o.ChatHistory(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, history, 3) // system, user, assistant
	assert.Equal(t, "hello there", history[1].Content)
}

func TestSendUnknownChatReturnsChatNotFound(t *testing.T) {
	o := newTestOrchestrator()
	_, err := o.Send(context.Background(), "missing", "main", nil, "hi", nil)
	require.Error(t, err)
	appErr, ok := apperr.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrChatNotFound, appErr.Code)
}

func TestSendUnknownBotReturnsBotNotFound(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	chatID, err := o.StartChat(ctx)
	require.NoError(t, err)

	_, err = o.Send(ctx, chatID, "ghost", nil, "hi", nil)
	require.Error(t, err)
	appErr, ok := apperr.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrBotNotFound, appErr.Code)
}

func TestQueryRunsWithoutPersistingASession(t *testing.T) {
	o := newTestOrchestrator()
	reply, err := o.Query(context.Background(), "main", nil, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", reply.Content.Content)
}

func TestKeyedMutexDropsEntryAfterLastRelease(t *testing.T) {
	var k keyedMutex

	unlock := k.Lock("chat-1")
	unlock()

	k.mu.Lock()
	assert.Empty(t, k.locks)
	k.mu.Unlock()
}

func TestKeyedMutexKeepsEntryWhileWaitersRemain(t *testing.T) {
	var k keyedMutex

	unlockFirst := k.Lock("chat-1")

	secondDone := make(chan struct{})
	go func() {
		unlockSecond := k.Lock("chat-1")
		unlockSecond()
		close(secondDone)
	}()

	// Give the second goroutine time to register as a waiter, then release;
	// the entry must survive until the waiter is through.
	for {
		k.mu.Lock()
		waiting := k.locks["chat-1"] != nil && k.locks["chat-1"].refs == 2
		k.mu.Unlock()
		if waiting {
			break
		}
		time.Sleep(time.Millisecond)
	}

	unlockFirst()
	<-secondDone

	k.mu.Lock()
	assert.Empty(t, k.locks)
	k.mu.Unlock()
}

func TestInitializeRejectsSecondCall(t *testing.T) {
	o := newTestOrchestrator()
	require.NoError(t, o.Initialize(context.Background()))

	err := o.Initialize(context.Background())
	require.Error(t, err)
	appErr, ok := apperr.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ErrInitializedAlready, appErr.Code)
}
