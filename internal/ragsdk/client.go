package ragsdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"criabot-gateway/internal/apperr"

	"github.com/go-resty/resty/v2"
)

// Config configures the HTTP client used to reach the RAG backend.
type Config struct {
	URL     string
	Timeout time.Duration
	Retries int
}

// RestyClient talks to the RAG backend's search, rerank and completion
// endpoints over HTTP.
type RestyClient struct {
	client *resty.Client
}

// NewRestyClient builds a resty client that retries transport errors and 5xx
// responses up to cfg.Retries times, waiting 1s to 10s between attempts.
func NewRestyClient(cfg Config) *RestyClient {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(cfg.Retries)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(10 * time.Second)

	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	client.SetBaseURL(cfg.URL)

	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500
	})

	return &RestyClient{client: client}
}

type searchGroupRequest struct {
	Prompt       string                 `json:"prompt"`
	TopK         int                    `json:"top_k"`
	MinK         float64                `json:"min_k"`
	TopN         int                    `json:"top_n"`
	MinN         float64                `json:"min_n"`
	SearchFilter map[string]interface{} `json:"search_filter,omitempty"`
	ExtraGroups  []string               `json:"extra_groups,omitempty"`
}

// SearchGroup queries a single index group for candidate nodes. ExtraGroups
// asks the backend to fold in results from other bots' index groups so a
// turn can search across bots without a second round trip.
func (c *RestyClient) SearchGroup(ctx context.Context, groupName string, config SearchGroupConfig) (GroupSearchResponse, error) {
	var result GroupSearchResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(searchGroupRequest{
			Prompt:       config.Prompt,
			TopK:         config.TopK,
			MinK:         config.MinK,
			TopN:         config.TopN,
			MinN:         config.MinN,
			SearchFilter: config.SearchFilter,
			ExtraGroups:  config.ExtraGroups,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/indexes/%s/search", groupName))

	if err != nil {
		slog.Error("rag backend search request failed", "group", groupName, "error", err)
		return GroupSearchResponse{}, apperr.New(apperr.ErrUpstreamRAG, "search request failed")
	}
	if resp.StatusCode() != http.StatusOK {
		slog.Error("rag backend search returned error", "group", groupName, "status", resp.StatusCode(), "body", string(resp.Body()))
		return GroupSearchResponse{}, apperr.NewWithDetails(apperr.ErrUpstreamRAG, "search request rejected", string(resp.Body()))
	}

	return result, nil
}

// About returns the provisioning record for an index group: which LLM,
// rerank, and embedding models it is bound to.
func (c *RestyClient) About(ctx context.Context, groupName string) (GroupInfo, error) {
	var result GroupInfo

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/indexes/%s/about", groupName))

	if err != nil {
		return GroupInfo{}, apperr.New(apperr.ErrUpstreamRAG, "about request failed")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return GroupInfo{}, apperr.New(apperr.ErrBotNotFound, "index group not found")
	}
	if resp.StatusCode() != http.StatusOK {
		return GroupInfo{}, apperr.NewWithDetails(apperr.ErrUpstreamRAG, "about request rejected", string(resp.Body()))
	}

	return result, nil
}

// UploadContent sends a file to the backend for chunking and indexing under
// groupName. With update set, an existing file of the same name is replaced
// instead of duplicated.
func (c *RestyClient) UploadContent(ctx context.Context, groupName string, file ContentUpload, update bool) error {
	req := c.client.R().
		SetContext(ctx).
		SetBody(file)

	var resp *resty.Response
	var err error
	if update {
		resp, err = req.Put(fmt.Sprintf("/indexes/%s/content", groupName))
	} else {
		resp, err = req.Post(fmt.Sprintf("/indexes/%s/content", groupName))
	}

	if err != nil {
		slog.Error("rag backend content upload failed", "group", groupName, "file", file.FileName, "error", err)
		return apperr.New(apperr.ErrUpstreamRAG, "content upload failed")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return apperr.NewWithDetails(apperr.ErrUpstreamRAG, "content upload rejected", string(resp.Body()))
	}
	return nil
}

// DeleteContent removes a file from groupName's index.
func (c *RestyClient) DeleteContent(ctx context.Context, groupName, fileName string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/indexes/%s/content/%s", groupName, fileName))

	if err != nil {
		return apperr.New(apperr.ErrUpstreamRAG, "content delete failed")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return apperr.NewWithDetails(apperr.ErrUpstreamRAG, "content delete rejected", string(resp.Body()))
	}
	return nil
}

type listContentResponse struct {
	Files []string `json:"files"`
}

// ListContent lists the file names indexed under groupName.
func (c *RestyClient) ListContent(ctx context.Context, groupName string) ([]string, error) {
	var result listContentResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/indexes/%s/content", groupName))

	if err != nil {
		return nil, apperr.New(apperr.ErrUpstreamRAG, "content list failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apperr.NewWithDetails(apperr.ErrUpstreamRAG, "content list rejected", string(resp.Body()))
	}
	return result.Files, nil
}

type rerankRequest struct {
	ModelID int                 `json:"model_id"`
	Prompt  string              `json:"prompt"`
	Nodes   []TextNodeWithScore `json:"nodes"`
	TopN    int                 `json:"top_n"`
	MinN    float64             `json:"min_n"`
}

// Rerank narrows candidate nodes to the best matches for prompt.
func (c *RestyClient) Rerank(ctx context.Context, modelID int, prompt string, nodes []TextNodeWithScore, topN int, minN float64) (RerankResponse, error) {
	var result RerankResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rerankRequest{
			ModelID: modelID,
			Prompt:  prompt,
			Nodes:   nodes,
			TopN:    topN,
			MinN:    minN,
		}).
		SetResult(&result).
		Post("/rerank")

	if err != nil {
		slog.Error("rag backend rerank request failed", "error", err)
		return RerankResponse{}, apperr.New(apperr.ErrUpstreamRAG, "rerank request failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return RerankResponse{}, apperr.NewWithDetails(apperr.ErrUpstreamRAG, "rerank request rejected", string(resp.Body()))
	}

	return result, nil
}

type chatRequest struct {
	ModelID int        `json:"model_id"`
	History []Message  `json:"history"`
	Params  ChatParams `json:"params"`
}

// Chat drives the LLM agent over the given history.
func (c *RestyClient) Chat(ctx context.Context, modelID int, history []Message, params ChatParams) (ChatCompletionResult, error) {
	var result ChatCompletionResult

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(chatRequest{ModelID: modelID, History: history, Params: params}).
		SetResult(&result).
		Post("/chat/completions")

	if err != nil {
		slog.Error("rag backend chat completion failed", "error", err)
		return ChatCompletionResult{}, apperr.New(apperr.ErrUpstreamRAG, "chat completion failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return ChatCompletionResult{}, apperr.NewWithDetails(apperr.ErrUpstreamRAG, "chat completion rejected", string(resp.Body()))
	}

	return result, nil
}

type relatedPromptsRequest struct {
	ModelID        int     `json:"model_id"`
	LastPrompt     string  `json:"last_prompt"`
	LastReply      string  `json:"last_reply"`
	MaxReplyTokens int     `json:"max_reply_tokens"`
	Temperature    float64 `json:"temperature"`
}

// RelatedPrompts asks the LLM agent for follow-up prompt suggestions. Errors
// here are expected to be swallowed by callers rather than failing a turn.
func (c *RestyClient) RelatedPrompts(ctx context.Context, modelID int, lastPrompt, lastReply string, params RelatedPromptsParams) (RelatedPromptsResult, error) {
	var result RelatedPromptsResult

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(relatedPromptsRequest{
			ModelID:        modelID,
			LastPrompt:     lastPrompt,
			LastReply:      lastReply,
			MaxReplyTokens: params.MaxReplyTokens,
			Temperature:    params.Temperature,
		}).
		SetResult(&result).
		Post("/chat/related-prompts")

	if err != nil {
		return RelatedPromptsResult{}, apperr.New(apperr.ErrUpstreamRAG, "related prompts request failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return RelatedPromptsResult{}, apperr.NewWithDetails(apperr.ErrUpstreamRAG, "related prompts request rejected", string(resp.Body()))
	}

	return result, nil
}
