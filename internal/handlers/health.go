package handlers

import (
	"time"

	"criabot-gateway/internal/config"
	"criabot-gateway/internal/workers"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler reports liveness and worker pool utilization.
type HealthHandler struct {
	config *config.Config
	pools  *workers.Pools
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(cfg *config.Config, pools *workers.Pools) *HealthHandler {
	return &HealthHandler{config: cfg, pools: pools}
}

// HandleHealth reports gateway liveness. GET /health
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"message":     "criabot gateway is running",
		"timestamp":   time.Now(),
		"environment": h.config.Server.Environment,
		"rag_backend": h.config.RAG.URL,
		"workers":     h.pools.Stats(),
	})
}
