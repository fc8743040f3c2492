package handlers

import (
	"strings"
	"time"

	"criabot-gateway/internal/apperr"
	"criabot-gateway/internal/bot"
	"criabot-gateway/internal/botstore"
	"criabot-gateway/internal/chat"
	"criabot-gateway/internal/ragsdk"
	"criabot-gateway/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// BotHandler exposes bot management and index content operations: creating a
// bot's records, reading/tuning its parameters, and moving files in and out
// of its DOCUMENT/QUESTION indexes.
type BotHandler struct {
	store *botstore.Store
	rag   ragsdk.Client
}

// NewBotHandler builds a BotHandler bound to the bot store and RAG client.
func NewBotHandler(store *botstore.Store, rag ragsdk.Client) *BotHandler {
	return &BotHandler{store: store, rag: rag}
}

type createBotRequest struct {
	Name       string              `json:"name"`
	Parameters *chat.BotParameters `json:"parameters"`
}

type createBotResponse struct {
	ID      int       `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// HandleCreateBot persists a new bot identity and its starting parameters.
// Index provisioning happens out of band; this only records the bot.
// POST /bots
func (h *BotHandler) HandleCreateBot(c *fiber.Ctx) error {
	var req createBotRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.NewWithDetails(apperr.ErrBadRequest, "failed to parse request body", map[string]string{"parse_error": err.Error()})
	}
	if err := validation.ValidateBotName(req.Name); err != nil {
		return err
	}

	params := chat.DefaultBotParameters()
	if req.Parameters != nil {
		params = *req.Parameters
	}

	created, err := h.store.CreateBot(c.Context(), req.Name, params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(createBotResponse{
		ID:      created.ID,
		Name:    created.Name,
		Created: created.CreatedAt,
	})
}

type aboutBotResponse struct {
	Name       string             `json:"name"`
	Created    time.Time          `json:"created"`
	Parameters chat.BotParameters `json:"parameters"`
	GroupInfo  ragsdk.GroupInfo   `json:"group_info"`
}

// HandleAboutBot reports a bot's identity, tuning parameters, and the models
// its index groups are provisioned with. GET /bots/:bot_name/about
func (h *BotHandler) HandleAboutBot(c *fiber.Ctx) error {
	botName := c.Params("bot_name")
	if err := validation.ValidateBotName(botName); err != nil {
		return err
	}

	record, err := h.store.RetrieveBot(c.Context(), botName)
	if err != nil {
		return err
	}
	params, err := h.store.RetrieveBotParams(c.Context(), record.ID)
	if err != nil {
		return err
	}
	info, err := bot.New(botName, h.rag).RetrieveGroupInfo(c.Context())
	if err != nil {
		return err
	}

	return c.JSON(aboutBotResponse{
		Name:       record.Name,
		Created:    record.CreatedAt,
		Parameters: params,
		GroupInfo:  info,
	})
}

// HandleUpdateParameters overwrites a bot's tuning parameters.
// PATCH /bots/:bot_name/parameters
func (h *BotHandler) HandleUpdateParameters(c *fiber.Ctx) error {
	botName := c.Params("bot_name")
	if err := validation.ValidateBotName(botName); err != nil {
		return err
	}

	var params chat.BotParameters
	if err := c.BodyParser(&params); err != nil {
		return apperr.NewWithDetails(apperr.ErrBadRequest, "failed to parse request body", map[string]string{"parse_error": err.Error()})
	}

	record, err := h.store.RetrieveBot(c.Context(), botName)
	if err != nil {
		return err
	}
	if err := h.store.UpdateParameters(c.Context(), record.ID, params); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// botAndIndexType resolves the two path parameters every content route
// shares, checking the bot exists before any index operation runs.
func (h *BotHandler) botAndIndexType(c *fiber.Ctx) (*bot.Bot, string, error) {
	botName := c.Params("bot_name")
	if err := validation.ValidateBotName(botName); err != nil {
		return nil, "", err
	}

	indexType := strings.ToUpper(c.Params("index_type"))
	if err := validation.ValidateIndexType(indexType); err != nil {
		return nil, "", err
	}

	if _, err := h.store.RetrieveBot(c.Context(), botName); err != nil {
		return nil, "", err
	}

	return bot.New(botName, h.rag), indexType, nil
}

// HandleUploadContent adds a file to one of a bot's indexes.
// POST /bots/:bot_name/content/:index_type
func (h *BotHandler) HandleUploadContent(c *fiber.Ctx) error {
	return h.handleContentUpload(c, false)
}

// HandleUpdateContent replaces a file already indexed under one of a bot's
// indexes. PUT /bots/:bot_name/content/:index_type
func (h *BotHandler) HandleUpdateContent(c *fiber.Ctx) error {
	return h.handleContentUpload(c, true)
}

func (h *BotHandler) handleContentUpload(c *fiber.Ctx, update bool) error {
	handle, indexType, err := h.botAndIndexType(c)
	if err != nil {
		return err
	}

	var file ragsdk.ContentUpload
	if err := c.BodyParser(&file); err != nil {
		return apperr.NewWithDetails(apperr.ErrBadRequest, "failed to parse request body", map[string]string{"parse_error": err.Error()})
	}
	if file.FileName == "" {
		return apperr.New(apperr.ErrMissingRequiredField, "file_name is required")
	}

	if update {
		err = handle.UpdateContent(c.Context(), indexType, file)
	} else {
		err = handle.UploadContent(c.Context(), indexType, file)
	}
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"file_name": file.FileName})
}

// HandleDeleteContent removes a file from one of a bot's indexes.
// DELETE /bots/:bot_name/content/:index_type/:file_name
func (h *BotHandler) HandleDeleteContent(c *fiber.Ctx) error {
	handle, indexType, err := h.botAndIndexType(c)
	if err != nil {
		return err
	}

	fileName := c.Params("file_name")
	if fileName == "" {
		return apperr.New(apperr.ErrMissingRequiredField, "file_name is required")
	}

	if err := handle.DeleteContent(c.Context(), indexType, fileName); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type listContentResponse struct {
	Files []string `json:"files"`
}

// HandleListContent lists the files indexed under one of a bot's indexes.
// GET /bots/:bot_name/content/:index_type
func (h *BotHandler) HandleListContent(c *fiber.Ctx) error {
	handle, indexType, err := h.botAndIndexType(c)
	if err != nil {
		return err
	}

	files, err := handle.ListContent(c.Context(), indexType)
	if err != nil {
		return err
	}
	return c.JSON(listContentResponse{Files: files})
}
