package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/realestate-escrow/backend/internal/http/dto"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/services"
	"github.com/urfave/cli/v2"
)

var showCmd = &cli.Command{
	Name:      "show",
	Usage:     "print a property, its listing and payments",
	ArgsUsage: "<tokenId>",
	Action:    runShowCmd,
}

type showOutput struct {
	Property *models.Property      `json:"property,omitempty"`
	Listing  *dto.ListingResponse  `json:"listing,omitempty"`
	Payments []dto.PaymentResponse `json:"payments,omitempty"`
}

func runShowCmd(cctx *cli.Context) error {
	if cctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one token id")
	}
	tokenID, err := strconv.ParseUint(cctx.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token id %q: %w", cctx.Args().First(), err)
	}

	e, err := openEnv(cctx.Context, cctx)
	if err != nil {
		return err
	}
	defer e.Close()

	var out showOutput
	if p, err := e.properties.GetProperty(cctx.Context, tokenID); err == nil {
		out.Property = p
	} else if !errors.Is(err, services.ErrUnknownToken) {
		return err
	}

	l, err := e.escrow.GetListing(cctx.Context, tokenID)
	switch {
	case err == nil:
		resp := dto.NewListingResponse(l)
		out.Listing = &resp
		payments, err := e.escrow.GetPayments(cctx.Context, tokenID)
		if err != nil {
			return err
		}
		for i := range payments {
			out.Payments = append(out.Payments, dto.NewPaymentResponse(&payments[i]))
		}
	case !errors.Is(err, services.ErrUnknownToken):
		return err
	}

	if out.Property == nil && out.Listing == nil {
		return fmt.Errorf("token %d is neither registered nor listed", tokenID)
	}

	enc := json.NewEncoder(cctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
