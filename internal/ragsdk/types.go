// Package ragsdk is the client surface for the upstream RAG backend: index
// search, hybrid reranking, and LLM chat/related-prompts completion. It
// mirrors the criadex SDK boundary the bot package talks to in the original
// service, narrowed to what the gateway actually calls.
package ragsdk

import "context"

// TextNode is a retrieved chunk of indexed content.
type TextNode struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// TextNodeWithScore pairs a node with its similarity or rerank score.
type TextNodeWithScore struct {
	Node  TextNode `json:"node"`
	Score float64  `json:"score"`
}

// Asset is a file (usually an image) attached to an indexed document, keyed
// by UUID so a reply's markdown can reference it.
type Asset struct {
	UUID        string `json:"uuid"`
	Data        string `json:"data"`
	Description string `json:"description"`
	Mimetype    string `json:"mimetype"`
}

// GroupSearchResponse is the result of searching a single index group.
type GroupSearchResponse struct {
	GroupName   string              `json:"group_name"`
	Nodes       []TextNodeWithScore `json:"nodes"`
	Assets      []Asset             `json:"assets"`
	SearchUnits int                 `json:"search_units"`
}

// RerankResponse is the result of reranking candidate nodes for a prompt.
type RerankResponse struct {
	RankedNodes []TextNodeWithScore `json:"ranked_nodes"`
	SearchUnits int                 `json:"search_units"`
}

// SearchGroupConfig bounds a single group search: how many candidates to
// pull (top_k/min_k) before rerank narrows them to top_n/min_n.
type SearchGroupConfig struct {
	Prompt       string                 `json:"prompt"`
	TopK         int                    `json:"top_k"`
	MinK         float64                `json:"min_k"`
	TopN         int                    `json:"top_n"`
	MinN         float64                `json:"min_n"`
	SearchFilter map[string]interface{} `json:"search_filter,omitempty"`
	ExtraGroups  []string               `json:"extra_groups,omitempty"`
}

// Message is the wire shape of one chat turn sent to the completion agent.
// It is intentionally independent of the chat package's ChatMessage so this
// package never imports chat.
type Message struct {
	Role             string                 `json:"role"`
	Content          string                 `json:"content"`
	AdditionalKwargs map[string]interface{} `json:"additional_kwargs,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ChatParams carries the bot's tunable generation parameters through to the
// completion agent: the reply-token cap, temperature and top_p subset of
// BotParameters.
type ChatParams struct {
	MaxReplyTokens int     `json:"max_reply_tokens"`
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"top_p"`
}

// CompletionUsage reports token accounting for a single completion call.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResult is the LLM's reply plus its token usage.
type ChatCompletionResult struct {
	Content string          `json:"content"`
	Usage   CompletionUsage `json:"usage"`
}

// RelatedPromptsResult is a short list of suggested follow-up prompts plus
// the usage the side call consumed producing them.
type RelatedPromptsResult struct {
	Prompts []string          `json:"prompts"`
	Usage   []CompletionUsage `json:"usage"`
}

// GroupInfo identifies the models an index group is provisioned with. Every
// turn reads the LLM and rerank model ids from here rather than from static
// configuration, so re-provisioning a group takes effect immediately.
type GroupInfo struct {
	LLMModelID       int `json:"llm_model_id"`
	RerankModelID    int `json:"rerank_model_id"`
	EmbeddingModelID int `json:"embedding_model_id"`
}

// ContentUpload is a file handed to the backend for chunking and indexing.
type ContentUpload struct {
	FileName string                 `json:"file_name"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchClient fans out search requests to a named index group.
type SearchClient interface {
	SearchGroup(ctx context.Context, groupName string, config SearchGroupConfig) (GroupSearchResponse, error)
}

// GroupInfoClient reads a group's provisioning record.
type GroupInfoClient interface {
	About(ctx context.Context, groupName string) (GroupInfo, error)
}

// ContentClient manages the files indexed under a group. Chunking and
// embedding happen backend-side; this client only moves file payloads.
type ContentClient interface {
	UploadContent(ctx context.Context, groupName string, file ContentUpload, update bool) error
	DeleteContent(ctx context.Context, groupName, fileName string) error
	ListContent(ctx context.Context, groupName string) ([]string, error)
}

// RerankClient narrows a candidate node list down to the best matches for a
// prompt using a hybrid (lexical + embedding) reranker.
type RerankClient interface {
	Rerank(ctx context.Context, modelID int, prompt string, nodes []TextNodeWithScore, topN int, minN float64) (RerankResponse, error)
}

// RelatedPromptsParams bounds the related-prompts side call, independent of
// the bot's own reply generation parameters.
type RelatedPromptsParams struct {
	MaxReplyTokens int     `json:"max_reply_tokens"`
	Temperature    float64 `json:"temperature"`
}

// ChatCompletionClient drives the LLM chat and related-prompts agents.
type ChatCompletionClient interface {
	Chat(ctx context.Context, modelID int, history []Message, params ChatParams) (ChatCompletionResult, error)
	RelatedPrompts(ctx context.Context, modelID int, lastPrompt, lastReply string, params RelatedPromptsParams) (RelatedPromptsResult, error)
}

// Client is the full capability set the gateway needs from the RAG backend.
type Client interface {
	SearchClient
	GroupInfoClient
	ContentClient
	RerankClient
	ChatCompletionClient
}
