package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/http/dto"
	"github.com/realestate-escrow/backend/internal/middleware"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/services"
	"go.uber.org/zap"
)

// ChainEventReader serves the mirrored contract history of a token.
type ChainEventReader interface {
	ListByToken(ctx context.Context, tokenID uint64, limit int) ([]models.ChainEvent, error)
}

type PropertyHandler struct {
	properties  *services.PropertyService
	chainEvents ChainEventReader
	log         *zap.Logger
}

func NewPropertyHandler(properties *services.PropertyService, chainEvents ChainEventReader, log *zap.Logger) *PropertyHandler {
	return &PropertyHandler{properties: properties, chainEvents: chainEvents, log: log}
}

func (h *PropertyHandler) RegisterProperty(c *fiber.Ctx) error {
	var req dto.RegisterPropertyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	p, err := h.properties.RegisterProperty(c.Context(), middleware.GetActor(c), req.TokenID, req.TokenURI)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PropertyHandler) RefreshMetadata(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	p, err := h.properties.RefreshMetadata(c.Context(), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PropertyHandler) GetProperty(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	p, err := h.properties.GetProperty(c.Context(), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PropertyHandler) ListProperties(c *fiber.Ctx) error {
	props, err := h.properties.ListProperties(c.Context(), queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if props == nil {
		props = []models.Property{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: props})
}

func (h *PropertyHandler) GetTransfers(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	evs, err := h.chainEvents.ListByToken(c.Context(), tokenID, queryInt(c, "limit", 100))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if evs == nil {
		evs = []models.ChainEvent{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: evs})
}
