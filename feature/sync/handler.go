package sync

import (
	"errors"

	"matricula-sync/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the sync feature.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// RegisterRoutes registers the sync routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/sync")
	group.Post("/", h.HandleSubmit)
	group.Get("/status/:batchId", h.HandleStatus)
	group.Get("/conflicts", h.HandleConflicts)
}

// HandleSubmit accepts a device batch. Small batches are reconciled in the
// request and answered 200 with mappings and conflicts; large ones are
// queued and answered 202 with the batch id to poll.
func (h *Handler) HandleSubmit(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)

	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}

	result, err := h.service.Submit(c.Context(), &req)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ve.Error()})
		}
		l.Error("submission failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to process batch"})
	}

	if result.Queued {
		return c.Status(fiber.StatusAccepted).JSON(result.Outcome)
	}
	return c.JSON(result.Outcome)
}

// HandleStatus serves a poll for a batch outcome.
func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)
	batchID := c.Params("batchId")

	outcome, err := h.service.Status(c.Context(), batchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown batch"})
		}
		l.Error("status lookup failed", zap.String("batch_id", batchID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load batch status"})
	}
	return c.JSON(outcome)
}

// HandleConflicts lists parked cross-device edit conflicts for review.
func (h *Handler) HandleConflicts(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)

	limit := c.QueryInt("limit", 100)
	conflicts, err := h.service.Conflicts(c.Context(), limit)
	if err != nil {
		l.Error("conflict listing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list conflicts"})
	}
	return c.JSON(fiber.Map{"conflicts": conflicts, "count": len(conflicts)})
}
