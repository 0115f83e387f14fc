package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/http/dto"
	"github.com/realestate-escrow/backend/internal/middleware"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/rbac"
	"github.com/realestate-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type MetaHandler struct {
	escrow *services.EscrowService
	log    *zap.Logger
}

func NewMetaHandler(escrow *services.EscrowService, log *zap.Logger) *MetaHandler {
	return &MetaHandler{escrow: escrow, log: log}
}

// GetRoles publishes the configured role addresses and what each role may do.
func (h *MetaHandler) GetRoles(c *fiber.Ctx) error {
	roles := h.escrow.Roles()
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.RolesResponse{
		Seller:      roles.Seller.Hex(),
		Inspector:   roles.Inspector.Hex(),
		Lender:      roles.Lender.Hex(),
		Permissions: rbac.RolePermissions,
	}})
}

type meResponse struct {
	Address     string   `json:"address"`
	TokenID     *uint64  `json:"token_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// GetMe reports the caller's roles, globally or for ?token_id=N.
func (h *MetaHandler) GetMe(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	resp := meResponse{Address: actor.Hex()}

	var listing *models.Listing
	if v := c.Query("token_id"); v != "" {
		tokenID, err := parseTokenID(v)
		if err != nil {
			return badRequest(c, "invalid token id")
		}
		listing, err = h.escrow.GetListing(c.Context(), tokenID)
		if err != nil {
			return respondError(c, h.log, err)
		}
		resp.TokenID = &tokenID
	}

	resp.Roles = rbac.RolesFor(h.escrow.Roles(), listing, actor)
	resp.Permissions = rbac.Permissions(resp.Roles)
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: resp})
}
