package handlers

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/http/dto"
	"github.com/realestate-escrow/backend/internal/middleware"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/money"
	"github.com/realestate-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var serviceErrors = []errorMapping{
	{services.ErrUnauthorized, fiber.StatusForbidden, "unauthorized"},
	{services.ErrUnknownToken, fiber.StatusNotFound, "unknown_token"},
	{services.ErrAlreadyListed, fiber.StatusConflict, "already_listed"},
	{services.ErrListingClosed, fiber.StatusConflict, "listing_closed"},
	{services.ErrInspectionLocked, fiber.StatusConflict, "inspection_locked"},
	{services.ErrConcurrentUpdate, fiber.StatusConflict, "concurrent_update"},
	{services.ErrInvalidTerms, fiber.StatusBadRequest, "invalid_terms"},
	{services.ErrInvalidAmount, fiber.StatusBadRequest, "invalid_amount"},
	{services.ErrNotInspected, fiber.StatusUnprocessableEntity, "not_inspected"},
	{services.ErrIncompleteApprovals, fiber.StatusUnprocessableEntity, "incomplete_approvals"},
	{services.ErrInsufficientEscrow, fiber.StatusUnprocessableEntity, "insufficient_escrow"},
	{services.ErrNotFinalized, fiber.StatusUnprocessableEntity, "not_finalized"},
	{services.ErrOverPayment, fiber.StatusUnprocessableEntity, "over_payment"},
}

// respondError maps service errors onto HTTP statuses. Anything unknown is a
// 500 with the detail kept in the log only.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return c.Status(m.status).JSON(dto.ErrorResponse{
				Error:     m.err.Error(),
				Code:      m.code,
				RequestID: middleware.GetRequestID(c),
			})
		}
	}

	log.Error("request failed",
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error:     "internal error",
		Code:      "internal",
		RequestID: middleware.GetRequestID(c),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      "bad_request",
		RequestID: middleware.GetRequestID(c),
	})
}

func tokenIDParam(c *fiber.Ctx) (uint64, error) {
	return parseTokenID(c.Params("tokenId"))
}

func parseTokenID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id > models.MaxTokenID {
		return 0, fmt.Errorf("token id %d out of range", id)
	}
	return id, nil
}

// parseAmount prefers the base-unit field and falls back to display units.
func parseAmount(display, wei string) (*big.Int, error) {
	if wei != "" {
		return money.ParseWei(wei)
	}
	return money.ParseEther(display)
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
