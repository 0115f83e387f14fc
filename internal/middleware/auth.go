package middleware

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/auth"
	"github.com/realestate-escrow/backend/internal/http/dto"
	"go.uber.org/zap"
)

const CtxWallet = "wallet"

// AuthMiddleware accepts a Bearer token issued by POST /auth/wallet and stores
// the wallet address it was issued to. A wallet already resolved by
// IdentifyMiddleware is accepted as is.
func AuthMiddleware(secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetActor(c) != (common.Address{}) {
			return c.Next()
		}
		wallet, reason := bearerWallet(c, secret, log)
		if reason != "" {
			return unauthorized(c, reason)
		}
		c.Locals(CtxWallet, wallet)
		return c.Next()
	}
}

// IdentifyMiddleware resolves the wallet of a valid Bearer token without
// requiring one, so middleware running ahead of AuthMiddleware (rate limits,
// access logs) can key on it. Bad or missing tokens pass through anonymously.
func IdentifyMiddleware(secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) != "" {
			if wallet, reason := bearerWallet(c, secret, log); reason == "" {
				c.Locals(CtxWallet, wallet)
			}
		}
		return c.Next()
	}
}

// bearerWallet returns the token's wallet, or a client-facing reason it was refused.
func bearerWallet(c *fiber.Ctx, secret string, log *zap.Logger) (common.Address, string) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return common.Address{}, "missing authorization header"
	}

	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenStr == authHeader {
		return common.Address{}, "invalid authorization format"
	}

	claims, err := auth.ParseJWT(secret, tokenStr)
	if err != nil {
		log.Debug("jwt parse error", zap.Error(err))
		return common.Address{}, "invalid or expired token"
	}
	return claims.Wallet(), ""
}

// GetActor returns the authenticated wallet, or the zero address for
// anonymous requests.
func GetActor(c *fiber.Ctx) common.Address {
	addr, _ := c.Locals(CtxWallet).(common.Address)
	return addr
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      "unauthenticated",
		RequestID: GetRequestID(c),
	})
}
