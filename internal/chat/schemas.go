// Package chat implements a single bot conversation's turn logic: the
// token-bounded history buffer, context retrieval and classification, and
// the reply state machine that ties them together.
package chat

import (
	"encoding/json"

	"criabot-gateway/internal/ragsdk"
)

// ContextType tags which concrete Context a turn resolved to.
type ContextType string

const (
	ContextTypeQuestion ContextType = "QUESTION"
	ContextTypeText     ContextType = "TEXT"
)

// RelatedPrompt is a suggested follow-up question attached to a reply.
type RelatedPrompt struct {
	Prompt string `json:"prompt"`
}

// Context is what a turn's retrieval step resolved to: either a direct
// question/answer pair (QuestionContext) or free text to ground an LLM
// reply on (TextContext). A turn with no relevant context has a nil Context.
type Context interface {
	Type() ContextType
	relatedPrompts() []RelatedPrompt
}

// QuestionContext is resolved when the top-ranked node is itself a
// pre-answered question and the node opts out of an LLM rewrite
// (llm_reply=false). The reply is read directly from the node's metadata.
type QuestionContext struct {
	FileName       string                   `json:"file_name"`
	GroupName      string                   `json:"group_name"`
	Node           ragsdk.TextNodeWithScore `json:"node"`
	RelatedPrompts []RelatedPrompt          `json:"related_prompts"`
}

func (q QuestionContext) Type() ContextType { return ContextTypeQuestion }

func (q QuestionContext) MarshalJSON() ([]byte, error) {
	type alias QuestionContext
	return json.Marshal(struct {
		ContextType ContextType `json:"context_type"`
		alias
	}{ContextTypeQuestion, alias(q)})
}

func (q QuestionContext) relatedPrompts() []RelatedPrompt { return q.RelatedPrompts }

// TextContext is resolved for any other ranked result: free text the LLM
// should answer from, plus the full ranked node list for citation/asset use.
type TextContext struct {
	Text           string                     `json:"text"`
	Nodes          []ragsdk.TextNodeWithScore `json:"nodes"`
	RelatedPrompts []RelatedPrompt            `json:"related_prompts"`
}

func (t TextContext) Type() ContextType { return ContextTypeText }

func (t TextContext) MarshalJSON() ([]byte, error) {
	type alias TextContext
	return json.Marshal(struct {
		ContextType ContextType `json:"context_type"`
		alias
	}{ContextTypeText, alias(t)})
}

func (t TextContext) relatedPrompts() []RelatedPrompt { return t.RelatedPrompts }

// ChatReplyContent is one message in a reply's content or history, shaped
// for the wire (assets resolved, metadata preserved).
type ChatReplyContent struct {
	Role             string                 `json:"role"`
	Content          string                 `json:"content"`
	Assets           []ragsdk.Asset         `json:"assets,omitempty"`
	AdditionalKwargs map[string]interface{} `json:"additional_kwargs,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// contentFromMessage builds a ChatReplyContent from a buffered message and
// the assets actually referenced by its content.
func contentFromMessage(message ChatMessage, assets []ragsdk.Asset) ChatReplyContent {
	return ChatReplyContent{
		Role:             message.Role,
		Content:          message.Content,
		Assets:           assets,
		AdditionalKwargs: message.AdditionalKwargs,
		Metadata:         message.Metadata,
	}
}

// BotParameters is the tunable generation and retrieval configuration for a
// single bot, persisted per bot_id and loaded fresh for every turn.
type BotParameters struct {
	MaxInputTokens            int     `json:"max_input_tokens"`
	MaxReplyTokens            int     `json:"max_reply_tokens"`
	Temperature               float64 `json:"temperature"`
	TopP                      float64 `json:"top_p"`
	TopK                      int     `json:"top_k"`
	MinK                      float64 `json:"min_k"`
	TopN                      int     `json:"top_n"`
	MinN                      float64 `json:"min_n"`
	LLMGenerateRelatedPrompts bool    `json:"llm_generate_related_prompts"`
	NoContextMessage          string  `json:"no_context_message"`
	NoContextUseMessage       bool    `json:"no_context_use_message"`
	NoContextLLMGuess         bool    `json:"no_context_llm_guess"`
	SystemMessage             string  `json:"system_message"`
}

// DefaultBotParameters mirrors the defaults a newly created bot starts with.
func DefaultBotParameters() BotParameters {
	return BotParameters{
		MaxInputTokens:            2000,
		MaxReplyTokens:            1024,
		Temperature:               0.9,
		TopP:                      0,
		TopK:                      10,
		MinK:                      0.5,
		TopN:                      3,
		MinN:                      0.7,
		LLMGenerateRelatedPrompts: true,
		NoContextMessage:          "Sorry, I'm not sure about that.",
		NoContextUseMessage:       false,
		NoContextLLMGuess:         false,
	}
}

// ChatReply is the full result of a single Send/Query turn. TokenUsage
// lists every completion call the turn made (reply, related prompts);
// TotalUsage sums them.
type ChatReply struct {
	Prompt           string                                `json:"prompt"`
	TokenUsage       []ragsdk.CompletionUsage              `json:"token_usage"`
	TotalUsage       ragsdk.CompletionUsage                `json:"total_usage"`
	SearchUnits      int                                   `json:"search_units"`
	Content          ChatReplyContent                      `json:"content"`
	History          []ChatMessage                         `json:"history"`
	RelatedPrompts   []RelatedPrompt                       `json:"related_prompts"`
	Context          Context                               `json:"context,omitempty"`
	GroupResponses   map[string]ragsdk.GroupSearchResponse `json:"group_responses"`
	VerifiedResponse bool                                  `json:"verified_response"`
}
