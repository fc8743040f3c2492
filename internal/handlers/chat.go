// Package handlers wires the gateway's Fiber routes to the orchestrator,
// translating HTTP requests into core operation calls and core replies back
// into JSON, the way the upstream chat service's own handler layer does.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"criabot-gateway/internal/apperr"
	"criabot-gateway/internal/chat"
	"criabot-gateway/internal/orchestrator"
	"criabot-gateway/internal/validation"
	"criabot-gateway/internal/workers"

	"github.com/gofiber/fiber/v2"
)

// turnTimeout bounds a single send/query turn: retrieval fan-out, rerank,
// and at most one LLM call all happen inside it.
const turnTimeout = 2 * time.Minute

// ChatHandler exposes the core's chat lifecycle operations over HTTP.
type ChatHandler struct {
	orch  *orchestrator.Orchestrator
	pools *workers.Pools
}

// NewChatHandler builds a ChatHandler bound to orch, running every
// Send/Query turn through pools' turn pool so a burst of clients can't pile
// unbounded retrieval/LLM calls onto the RAG backend at once.
func NewChatHandler(orch *orchestrator.Orchestrator, pools *workers.Pools) *ChatHandler {
	return &ChatHandler{orch: orch, pools: pools}
}

type startChatResponse struct {
	ChatID string `json:"chat_id"`
}

// HandleStartChat starts a new chat session. POST /bots/chats/start
func (h *ChatHandler) HandleStartChat(c *fiber.Ctx) error {
	chatID, err := h.orch.StartChat(c.Context())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(startChatResponse{ChatID: chatID})
}

// HandleEndChat ends a chat session. DELETE /bots/chats/:chat_id
func (h *ChatHandler) HandleEndChat(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	if err := validation.ValidateChatID(chatID); err != nil {
		return err
	}
	if err := h.orch.EndChat(c.Context(), chatID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type chatExistsResponse struct {
	Exists bool `json:"exists"`
}

// HandleChatExists reports whether a chat session is live.
// GET /bots/chats/:chat_id/exists
func (h *ChatHandler) HandleChatExists(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	if err := validation.ValidateChatID(chatID); err != nil {
		return err
	}
	exists, err := h.orch.ChatExists(c.Context(), chatID)
	if err != nil {
		return err
	}
	return c.JSON(chatExistsResponse{Exists: exists})
}

type chatHistoryResponse struct {
	ChatID  string             `json:"chat_id"`
	History []chat.ChatMessage `json:"history"`
}

// HandleChatHistory returns a chat's persisted message history.
// GET /bots/chats/:chat_id/history
func (h *ChatHandler) HandleChatHistory(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	if err := validation.ValidateChatID(chatID); err != nil {
		return err
	}
	history, err := h.orch.ChatHistory(c.Context(), chatID)
	if err != nil {
		return err
	}

	return c.JSON(chatHistoryResponse{ChatID: chatID, History: history})
}

// turnRequest is the shared body shape for send and query.
type turnRequest struct {
	Prompt         string                 `json:"prompt"`
	BotName        string                 `json:"bot_name"`
	ExtraBots      []string               `json:"extra_bots"`
	MetadataFilter map[string]interface{} `json:"metadata_filter"`
}

func (r turnRequest) validate() error {
	if err := validation.ValidatePrompt(r.Prompt); err != nil {
		return err
	}
	if err := validation.ValidateBotName(r.BotName); err != nil {
		return err
	}
	return validation.ValidateExtraBots(r.BotName, r.ExtraBots)
}

// HandleSend runs one turn of an existing chat session.
// POST /bots/chats/:chat_id/send
func (h *ChatHandler) HandleSend(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	if err := validation.ValidateChatID(chatID); err != nil {
		return err
	}

	var req turnRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.NewWithDetails(apperr.ErrBadRequest, "failed to parse request body", map[string]string{"parse_error": err.Error()})
	}
	if err := req.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), turnTimeout)
	defer cancel()

	var reply chat.ChatReply
	var turnErr error
	if err := h.pools.RunTurn(ctx, func() {
		reply, turnErr = h.orch.Send(ctx, chatID, req.BotName, req.ExtraBots, req.Prompt, req.MetadataFilter)
	}); err != nil {
		return err
	}
	if turnErr != nil {
		return turnErr
	}
	h.logTurnTelemetry(chatID, reply)
	return c.JSON(reply)
}

// logTurnTelemetry records a completed turn's token/search-unit accounting
// on the background pool, off the request path.
func (h *ChatHandler) logTurnTelemetry(chatID string, reply chat.ChatReply) {
	h.pools.SubmitBackground(func() {
		slog.Info("turn completed",
			"chat_id", chatID,
			"total_tokens", reply.TotalUsage.TotalTokens,
			"search_units", reply.SearchUnits,
			"verified_response", reply.VerifiedResponse,
		)
	})
}

// HandleQuery runs a single turn with no persisted session: start, send,
// and end happen atomically from the caller's perspective. POST /query
func (h *ChatHandler) HandleQuery(c *fiber.Ctx) error {
	var req turnRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.NewWithDetails(apperr.ErrBadRequest, "failed to parse request body", map[string]string{"parse_error": err.Error()})
	}
	if err := req.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), turnTimeout)
	defer cancel()

	var reply chat.ChatReply
	var turnErr error
	if err := h.pools.RunTurn(ctx, func() {
		reply, turnErr = h.orch.Query(ctx, req.BotName, req.ExtraBots, req.Prompt, req.MetadataFilter)
	}); err != nil {
		return err
	}
	if turnErr != nil {
		return turnErr
	}
	h.logTurnTelemetry("", reply)
	return c.JSON(reply)
}
