package handlers

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/auth"
	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/http/dto"
	"github.com/realestate-escrow/backend/internal/middleware"
	"go.uber.org/zap"
)

type AuthHandler struct {
	nonces *auth.NonceStore
	cfg    *config.Config
	log    *zap.Logger
}

func NewAuthHandler(nonces *auth.NonceStore, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{nonces: nonces, cfg: cfg, log: log}
}

// Nonce issues a one-time sign-in message for the wallet to sign.
func (h *AuthHandler) Nonce(c *fiber.Ctx) error {
	var req dto.NonceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !common.IsHexAddress(req.Address) {
		return badRequest(c, "address must be a hex wallet address")
	}

	ch, err := h.nonces.Issue(c.Context(), common.HexToAddress(req.Address))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NonceResponse{
		Nonce:    ch.Nonce,
		Message:  ch.Message,
		IssuedAt: ch.IssuedAt,
	}})
}

// WalletAuth exchanges a signed sign-in message for a JWT.
func (h *AuthHandler) WalletAuth(c *fiber.Ctx) error {
	var req dto.WalletAuthRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !common.IsHexAddress(req.Address) {
		return badRequest(c, "address must be a hex wallet address")
	}
	if req.Message == "" || req.Signature == "" {
		return badRequest(c, "message and signature are required")
	}

	addr := common.HexToAddress(req.Address)
	if err := h.nonces.Verify(c.Context(), addr, req.Message, req.Signature); err != nil {
		if isProofRejection(err) {
			h.log.Debug("wallet auth rejected", zap.String("address", addr.Hex()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:     "invalid or expired sign-in proof",
				Code:      "unauthenticated",
				RequestID: middleware.GetRequestID(c),
			})
		}
		return respondError(c, h.log, err)
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, addr, h.cfg.JWTExpiration)
	if err != nil {
		return respondError(c, h.log, err)
	}

	expiration := h.cfg.JWTExpiration
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	h.log.Info("wallet signed in", zap.String("address", addr.Hex()))
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.AuthResponse{
		Token:     token,
		Address:   addr.Hex(),
		ExpiresAt: time.Now().Add(expiration),
	}})
}

func isProofRejection(err error) bool {
	return errors.Is(err, auth.ErrNonceInvalid) ||
		errors.Is(err, auth.ErrSignatureMismatch) ||
		errors.Is(err, auth.ErrMalformedSignature)
}
