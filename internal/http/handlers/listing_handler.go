package handlers

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/http/dto"
	"github.com/realestate-escrow/backend/internal/middleware"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/money"
	"github.com/realestate-escrow/backend/internal/repositories"
	"github.com/realestate-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type ListingHandler struct {
	escrow *services.EscrowService
	log    *zap.Logger
}

func NewListingHandler(escrow *services.EscrowService, log *zap.Logger) *ListingHandler {
	return &ListingHandler{escrow: escrow, log: log}
}

func (h *ListingHandler) CreateListing(c *fiber.Ctx) error {
	var req dto.CreateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !common.IsHexAddress(req.Buyer) {
		return badRequest(c, "buyer must be a hex wallet address")
	}
	price, err := parseAmount(req.PurchasePrice, req.PurchasePriceWei)
	if err != nil {
		return badRequest(c, "invalid purchase_price: "+err.Error())
	}
	escrowAmount, err := parseAmount(req.EscrowAmount, req.EscrowAmountWei)
	if err != nil {
		return badRequest(c, "invalid escrow_amount: "+err.Error())
	}

	bps := money.PercentToBPS(req.InterestRatePercent)
	if req.InterestRateBPS != nil {
		bps = *req.InterestRateBPS
	}

	l, err := h.escrow.List(c.Context(), middleware.GetActor(c), services.ListParams{
		TokenID:         req.TokenID,
		Buyer:           common.HexToAddress(req.Buyer),
		PurchasePrice:   price,
		EscrowAmount:    escrowAmount,
		LoanTermMonths:  req.LoanTermMonths,
		InterestRateBPS: bps,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.NewListingResponse(l)})
}

func (h *ListingHandler) ListListings(c *fiber.Ctx) error {
	filter := repositories.ListingFilter{
		Limit:  queryInt(c, "limit", 20),
		Offset: queryInt(c, "offset", 0),
	}
	if v := c.Query("status"); v != "" {
		if _, ok := models.ValidListingTransitions[v]; !ok {
			return badRequest(c, "unknown status")
		}
		filter.Status = &v
	}
	if v := c.Query("buyer"); v != "" {
		if !common.IsHexAddress(v) {
			return badRequest(c, "buyer must be a hex wallet address")
		}
		buyer := common.HexToAddress(v)
		filter.Buyer = &buyer
	}
	if v := c.Query("listed"); v != "" {
		listed, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "listed must be a boolean")
		}
		filter.IsListed = &listed
	}

	ls, err := h.escrow.ListListings(c.Context(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewListingResponses(ls)})
}

func (h *ListingHandler) GetListing(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	l, err := h.escrow.GetListing(c.Context(), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewListingResponse(l)})
}

func (h *ListingHandler) GetOwner(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	owner, err := h.escrow.GetCurrentOwner(c.Context(), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.OwnerResponse{TokenID: tokenID, Owner: owner.Hex()}})
}

func (h *ListingHandler) GetRemaining(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	remaining, err := h.escrow.GetRemainingAmount(c.Context(), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.RemainingResponse{
		TokenID:   tokenID,
		Remaining: dto.Ether(remaining),
	}})
}

func (h *ListingHandler) GetListed(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	listed, err := h.escrow.IsListed(c.Context(), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListedResponse{TokenID: tokenID, IsListed: listed}})
}

func (h *ListingHandler) GetPayments(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	payments, err := h.escrow.GetPayments(c.Context(), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := make([]dto.PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, dto.NewPaymentResponse(&payments[i]))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

// GetEvents returns the audit trail of a listing, newest first.
func (h *ListingHandler) GetEvents(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	logs, err := h.escrow.GetHistory(c.Context(), tokenID, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *ListingHandler) DepositEarnest(c *fiber.Ctx) error {
	return h.withAmount(c, h.escrow.DepositEarnest)
}

func (h *ListingHandler) FundLoan(c *fiber.Ctx) error {
	return h.withAmount(c, h.escrow.FundLoan)
}

func (h *ListingHandler) UpdateInspection(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	var req dto.InspectionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Passed == nil {
		return badRequest(c, "passed is required")
	}

	l, err := h.escrow.UpdateInspectionStatus(c.Context(), middleware.GetActor(c), tokenID, *req.Passed)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewListingResponse(l)})
}

func (h *ListingHandler) ApproveSale(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	l, err := h.escrow.ApproveSale(c.Context(), middleware.GetActor(c), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewListingResponse(l)})
}

func (h *ListingHandler) FinalizeSale(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	l, err := h.escrow.FinalizeSale(c.Context(), middleware.GetActor(c), tokenID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewListingResponse(l)})
}

func (h *ListingHandler) MakePayment(c *fiber.Ctx) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	var req dto.AmountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	amount, err := parseAmount(req.Amount, req.AmountWei)
	if err != nil {
		return badRequest(c, "invalid amount: "+err.Error())
	}

	l, p, err := h.escrow.MakePayment(c.Context(), middleware.GetActor(c), tokenID, amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.PaymentResultResponse{
		Listing: dto.NewListingResponse(l),
		Payment: dto.NewPaymentResponse(p),
	}})
}

type amountOp func(ctx context.Context, caller common.Address, tokenID uint64, amount *big.Int) (*models.Listing, error)

func (h *ListingHandler) withAmount(c *fiber.Ctx, op amountOp) error {
	tokenID, err := tokenIDParam(c)
	if err != nil {
		return badRequest(c, "invalid token id")
	}
	var req dto.AmountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	amount, err := parseAmount(req.Amount, req.AmountWei)
	if err != nil {
		return badRequest(c, "invalid amount: "+err.Error())
	}

	l, err := op(c.Context(), middleware.GetActor(c), tokenID, amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewListingResponse(l)})
}
