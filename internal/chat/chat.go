package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"criabot-gateway/internal/ragsdk"
	"criabot-gateway/internal/tokenizer"
)

// relatedPromptsMaxReplyTokens and relatedPromptsTemperature match the fixed
// generation settings used for the related-prompts side call, independent of
// the bot's own reply parameters.
const (
	relatedPromptsMaxReplyTokens = 500
	relatedPromptsTemperature    = 0.1
)

// Chat is a lightweight, per-turn handle over one chat session's buffer and
// retriever. It holds no cache dependency: callers are responsible for
// loading the starting history and persisting Chat.History() afterward,
// which lets a turn's user prompt survive even if the LLM call that follows
// it fails.
type Chat struct {
	retriever  *ContextRetriever
	buffer     *Buffer
	llm        ragsdk.ChatCompletionClient
	llmModelID int
	params     BotParameters
}

// NewChat builds a Chat over an existing (possibly empty) history, seeding
// or refreshing its system message from the bot's current parameters.
func NewChat(history []ChatMessage, counter tokenizer.Counter, retriever *ContextRetriever, llm ragsdk.ChatCompletionClient, llmModelID int, params BotParameters) *Chat {
	buffer := NewBuffer(params.MaxInputTokens, counter, history)
	buffer.UpdateSystemMessage(NewMessage("system", params.SystemMessage))

	return &Chat{
		retriever:  retriever,
		buffer:     buffer,
		llm:        llm,
		llmModelID: llmModelID,
		params:     params,
	}
}

// History returns the chat's persisted history (excludes any ephemeral
// message from mid-turn context injection).
func (c *Chat) History() []ChatMessage {
	return c.buffer.History()
}

// Send resolves context for prompt, produces a reply through the matching
// branch, and returns the full turn result. Retrieval searches on the prompt
// alone and runs before the user's prompt is added to history, so a failed
// retrieval leaves history unchanged.
func (c *Chat) Send(ctx context.Context, prompt string, metadataFilter map[string]interface{}, extraBots []string) (ChatReply, error) {
	retrieval, err := c.retriever.Retrieve(ctx, prompt, metadataFilter, extraBots)
	if err != nil {
		return ChatReply{}, err
	}

	c.buffer.AddMessage(NewMessage("user", prompt), true)

	var replyHistory []ChatMessage
	var usage []ragsdk.CompletionUsage

	switch rc := retrieval.Context.(type) {
	case *TextContext:
		history, turnUsage, err := c.textContextReply(ctx, rc)
		if err != nil {
			return ChatReply{}, err
		}
		replyHistory = history
		if turnUsage != nil {
			usage = append(usage, *turnUsage)
		}
	case *QuestionContext:
		replyHistory = c.questionContextReply(rc)
	case nil:
		history, turnUsage, err := c.noContextReply(ctx)
		if err != nil {
			return ChatReply{}, err
		}
		replyHistory = history
		if turnUsage != nil {
			usage = append(usage, *turnUsage)
		}
	default:
		return ChatReply{}, fmt.Errorf("chat: unexpected context type %T", rc)
	}

	usage = append(usage, retrieval.TokenUsage...)

	responseMessage := replyHistory[len(replyHistory)-1]

	var relatedPrompts []RelatedPrompt
	if retrieval.Context != nil {
		relatedPrompts = retrieval.Context.relatedPrompts()
	}
	if c.params.LLMGenerateRelatedPrompts && len(relatedPrompts) == 0 {
		relatedParams := ragsdk.RelatedPromptsParams{
			MaxReplyTokens: relatedPromptsMaxReplyTokens,
			Temperature:    relatedPromptsTemperature,
		}
		if result, err := c.llm.RelatedPrompts(ctx, c.llmModelID, prompt, responseMessage.Content, relatedParams); err != nil {
			// A related-prompts failure never fails the turn; the user
			// already has their reply.
			slog.Error("failed to generate related prompts", "error", err)
		} else {
			for _, p := range result.Prompts {
				relatedPrompts = append(relatedPrompts, RelatedPrompt{Prompt: p})
			}
			usage = append(usage, result.Usage...)
		}
	}

	groupResponses := make(map[string]ragsdk.GroupSearchResponse, len(retrieval.GroupResponses))
	for _, gr := range stripAssetDataFromGroupResponses(retrieval.GroupResponses) {
		groupResponses[gr.GroupName] = gr
	}
	assets := extractUsedAssets(responseMessage.Content, retrieval.Assets())

	var totalUsage ragsdk.CompletionUsage
	for _, u := range usage {
		totalUsage.PromptTokens += u.PromptTokens
		totalUsage.CompletionTokens += u.CompletionTokens
		totalUsage.TotalTokens += u.TotalTokens
	}

	verified := retrieval.Context != nil && retrieval.Context.Type() == ContextTypeQuestion

	return ChatReply{
		Prompt:           prompt,
		TokenUsage:       usage,
		TotalUsage:       totalUsage,
		SearchUnits:      retrieval.SearchUnits,
		Content:          contentFromMessage(responseMessage, assets),
		History:          replyHistory,
		RelatedPrompts:   relatedPrompts,
		Context:          retrieval.Context,
		GroupResponses:   groupResponses,
		VerifiedResponse: verified,
	}, nil
}

func (c *Chat) queryLLM(ctx context.Context, history []ChatMessage) (ChatMessage, *ragsdk.CompletionUsage, error) {
	wireHistory := make([]ragsdk.Message, len(history))
	for i, m := range history {
		wireHistory[i] = ragsdk.Message{
			Role:             m.Role,
			Content:          m.Content,
			AdditionalKwargs: m.AdditionalKwargs,
			Metadata:         m.Metadata,
		}
	}

	result, err := c.llm.Chat(ctx, c.llmModelID, wireHistory, ragsdk.ChatParams{
		MaxReplyTokens: c.params.MaxReplyTokens,
		Temperature:    c.params.Temperature,
		TopP:           c.params.TopP,
	})
	if err != nil {
		return ChatMessage{}, nil, err
	}

	return NewMessage("assistant", result.Content), &result.Usage, nil
}

// textContextReply grounds the LLM's reply on the retrieved context by
// injecting it as an ephemeral system message for this turn only.
func (c *Chat) textContextReply(ctx context.Context, tc *TextContext) ([]ChatMessage, *ragsdk.CompletionUsage, error) {
	ephemeral := NewMessage("system", buildContextPrompt(tc, c.params.NoContextLLMGuess))
	buffered := c.buffer.Buffer(&ephemeral)

	reply, usage, err := c.queryLLM(ctx, buffered)
	if err != nil {
		return nil, nil, err
	}

	c.buffer.AddMessage(reply, true)
	return append(buffered, reply), usage, nil
}

// questionContextReply answers directly from the matched question node's
// metadata, with no LLM call.
func (c *Chat) questionContextReply(qc *QuestionContext) []ChatMessage {
	answer, _ := qc.Node.Node.Metadata[answerMetadataKey].(string)

	message := NewMessage("assistant", answer)
	message.Metadata["no_llm_reply"] = map[string]interface{}{
		"file_name":  qc.FileName,
		"group_name": qc.GroupName,
	}

	c.buffer.AddMessage(message, true)
	return c.buffer.History()
}

// noContextReply picks among the three ways a bot can respond when
// retrieval found nothing relevant: let the LLM guess, fall back to a saved
// canned message, or have the LLM say it doesn't know.
func (c *Chat) noContextReply(ctx context.Context) ([]ChatMessage, *ragsdk.CompletionUsage, error) {
	switch {
	case c.params.NoContextLLMGuess:
		return c.noContextLLMGuess(ctx)
	case c.params.NoContextMessage != "":
		return c.noContextSavedMessage(), nil, nil
	default:
		return c.noContextLLMMessage(ctx)
	}
}

func (c *Chat) noContextLLMGuess(ctx context.Context) ([]ChatMessage, *ragsdk.CompletionUsage, error) {
	ephemeral := NewMessage("system", buildNoContextGuessPrompt(c.params.NoContextMessage, c.params.NoContextUseMessage))
	buffered := c.buffer.Buffer(&ephemeral)

	reply, usage, err := c.queryLLM(ctx, buffered)
	if err != nil {
		return nil, nil, err
	}

	if c.params.NoContextUseMessage {
		reply.Content = strings.TrimSpace(c.params.NoContextMessage) + "\n\n" + reply.Content
	}

	c.buffer.AddMessage(reply, true)
	return append(buffered, reply), usage, nil
}

func (c *Chat) noContextLLMMessage(ctx context.Context) ([]ChatMessage, *ragsdk.CompletionUsage, error) {
	ephemeral := NewMessage("system", buildNoContextLLMPrompt())
	buffered := c.buffer.Buffer(&ephemeral)

	reply, usage, err := c.queryLLM(ctx, buffered)
	if err != nil {
		return nil, nil, err
	}

	c.buffer.AddMessage(reply, true)
	return append(buffered, reply), usage, nil
}

func (c *Chat) noContextSavedMessage() []ChatMessage {
	message := NewMessage("assistant", c.params.NoContextMessage)
	c.buffer.AddMessage(message, true)
	return c.buffer.History()
}
