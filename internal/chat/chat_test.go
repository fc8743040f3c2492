package chat

import (
	"context"
	"errors"
	"testing"

	"criabot-gateway/internal/ragsdk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	chatContent    string
	chatErr        error
	relatedPrompts []string
	relatedErr     error
}

func (s *stubLLM) Chat(_ context.Context, _ int, _ []ragsdk.Message, _ ragsdk.ChatParams) (ragsdk.ChatCompletionResult, error) {
	if s.chatErr != nil {
		return ragsdk.ChatCompletionResult{}, s.chatErr
	}
	return ragsdk.ChatCompletionResult{
		Content: s.chatContent,
		Usage:   ragsdk.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (s *stubLLM) RelatedPrompts(_ context.Context, _ int, _, _ string, _ ragsdk.RelatedPromptsParams) (ragsdk.RelatedPromptsResult, error) {
	if s.relatedErr != nil {
		return ragsdk.RelatedPromptsResult{}, s.relatedErr
	}
	return ragsdk.RelatedPromptsResult{Prompts: s.relatedPrompts}, nil
}

func newTestChat(t *testing.T, retriever *ContextRetriever, llm ragsdk.ChatCompletionClient, params BotParameters) *Chat {
	t.Helper()
	return NewChat(nil, charCounter{}, retriever, llm, 1, params)
}

func baseParams() BotParameters {
	p := DefaultBotParameters()
	p.SystemMessage = "you are a helpful bot"
	p.LLMGenerateRelatedPrompts = false
	return p
}

func TestSendTextContextCallsLLMAndAppendsReply(t *testing.T) {
	node := nodeWithScore(0.8, map[string]interface{}{}, "relevant text")
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {GroupName: "bot-document-index", Nodes: []ragsdk.TextNodeWithScore{node}},
			IndexTypeQuestion: {GroupName: "bot-question-index"},
		}},
		stubReranker{response: ragsdk.RerankResponse{RankedNodes: []ragsdk.TextNodeWithScore{node}}},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)
	llm := &stubLLM{chatContent: "here is your answer"}
	c := newTestChat(t, retriever, llm, baseParams())

	reply, err := c.Send(context.Background(), "what is this about?", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "here is your answer", reply.Content.Content)
	assert.Equal(t, "assistant", reply.Content.Role)
	require.NotNil(t, reply.Context)
	assert.Equal(t, ContextTypeText, reply.Context.Type())
	assert.False(t, reply.VerifiedResponse)
	require.Len(t, reply.TokenUsage, 1)
	assert.Equal(t, 15, reply.TotalUsage.TotalTokens)

	history := c.History()
	require.Len(t, history, 3) // system, user, assistant
	assert.Equal(t, "here is your answer", history[2].Content)
}

func TestSendQuestionContextSkipsLLM(t *testing.T) {
	node := nodeWithScore(0.9, map[string]interface{}{
		"answer":     "the answer",
		"llm_reply":  false,
		"file_name":  "faq.md",
		"group_name": "bot-question-index",
	}, "question text")
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {GroupName: "bot-document-index"},
			IndexTypeQuestion: {GroupName: "bot-question-index", Nodes: []ragsdk.TextNodeWithScore{node}},
		}},
		stubReranker{response: ragsdk.RerankResponse{RankedNodes: []ragsdk.TextNodeWithScore{node}}},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)
	llm := &stubLLM{chatErr: errors.New("should never be called")}
	c := newTestChat(t, retriever, llm, baseParams())

	reply, err := c.Send(context.Background(), "what's the answer?", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "the answer", reply.Content.Content)
	assert.True(t, reply.VerifiedResponse)
	require.NotNil(t, reply.Context)
	assert.Equal(t, ContextTypeQuestion, reply.Context.Type())
}

func TestSendNoContextUsesSavedMessageWithoutLLMCall(t *testing.T) {
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {GroupName: "bot-document-index"},
			IndexTypeQuestion: {GroupName: "bot-question-index"},
		}},
		stubReranker{},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)
	llm := &stubLLM{chatErr: errors.New("should never be called")}
	params := baseParams()
	params.NoContextMessage = "I don't have that information."

	c := newTestChat(t, retriever, llm, params)

	reply, err := c.Send(context.Background(), "something unrelated", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "I don't have that information.", reply.Content.Content)
	assert.Nil(t, reply.Context)
}

func TestSendNoContextGuessPrependsSavedMessage(t *testing.T) {
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {GroupName: "bot-document-index"},
			IndexTypeQuestion: {GroupName: "bot-question-index"},
		}},
		stubReranker{},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)
	llm := &stubLLM{chatContent: "maybe Paris"}
	params := baseParams()
	params.NoContextLLMGuess = true
	params.NoContextUseMessage = true
	params.NoContextMessage = "Sorry."

	c := newTestChat(t, retriever, llm, params)

	reply, err := c.Send(context.Background(), "capital of france?", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "Sorry.\n\nmaybe Paris", reply.Content.Content)
}

func TestSendResolvesUsedAssetsAndStripsGroupResponses(t *testing.T) {
	const firstID = "11111111-1111-1111-1111-111111111111"
	const secondID = "22222222-2222-2222-2222-222222222222"
	const unusedID = "33333333-3333-3333-3333-333333333333"

	node := nodeWithScore(0.8, map[string]interface{}{}, "a document with images")
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {
				GroupName: "bot-document-index",
				Nodes:     []ragsdk.TextNodeWithScore{node},
				Assets: []ragsdk.Asset{
					{UUID: firstID, Data: "base64-bytes", Mimetype: "image/png"},
					{UUID: secondID, Data: "other-bytes", Mimetype: "image/jpeg"},
					{UUID: unusedID, Data: "more-bytes"},
				},
			},
			IndexTypeQuestion: {GroupName: "bot-question-index"},
		}},
		stubReranker{response: ragsdk.RerankResponse{RankedNodes: []ragsdk.TextNodeWithScore{node}}},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)
	// The reply references the second asset before the first; the reply's
	// asset list still follows arrival order.
	llm := &stubLLM{chatContent: "see ![Asset](" + secondID + ") and ![Asset](" + firstID + ")"}
	c := newTestChat(t, retriever, llm, baseParams())

	reply, err := c.Send(context.Background(), "show me the images", nil, nil)

	require.NoError(t, err)
	require.Len(t, reply.Content.Assets, 2)
	assert.Equal(t, firstID, reply.Content.Assets[0].UUID)
	assert.Equal(t, "base64-bytes", reply.Content.Assets[0].Data)
	assert.Equal(t, secondID, reply.Content.Assets[1].UUID)

	for _, gr := range reply.GroupResponses {
		for _, asset := range gr.Assets {
			assert.Equal(t, "<stripped>", asset.Data)
		}
	}
}

func TestSendRelatedPromptsFailureDoesNotFailTurn(t *testing.T) {
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {GroupName: "bot-document-index"},
			IndexTypeQuestion: {GroupName: "bot-question-index"},
		}},
		stubReranker{},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)
	llm := &stubLLM{relatedErr: errors.New("related prompts agent down")}
	params := baseParams()
	params.LLMGenerateRelatedPrompts = true
	params.NoContextMessage = "idk"

	c := newTestChat(t, retriever, llm, params)

	reply, err := c.Send(context.Background(), "anything", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "idk", reply.Content.Content)
	assert.Empty(t, reply.RelatedPrompts)
}

func TestSendPreservesUserPromptInHistoryWhenLLMFails(t *testing.T) {
	retriever := NewContextRetriever(
		stubSearcher{responses: map[string]ragsdk.GroupSearchResponse{
			IndexTypeDocument: {GroupName: "bot-document-index"},
			IndexTypeQuestion: {GroupName: "bot-question-index"},
		}},
		stubReranker{},
		1,
		RetrieverParams{TopK: 5, MinK: 0.5, TopN: 3, MinN: 0.7},
	)
	llm := &stubLLM{chatErr: errors.New("llm exploded")}
	params := baseParams()
	params.NoContextMessage = ""
	params.NoContextLLMGuess = false

	c := newTestChat(t, retriever, llm, params)

	_, err := c.Send(context.Background(), "tell me something", nil, nil)

	require.Error(t, err)
	history := c.History()
	require.Len(t, history, 2) // system, user — the failed assistant turn never gets appended
	assert.Equal(t, "tell me something", history[1].Content)
}
