package main

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/realestate-escrow/backend/internal/money"
	"github.com/realestate-escrow/backend/internal/services"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// The demo listings: token, price, escrow, months, yearly rate in percent.
var defaultListings = []string{
	"1:20:10:6:10",
	"2:15:5:12:10",
	"3:10:5:24:10",
}

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "register the properties of an IPFS metadata folder and list them",
	Description: "Reads <n>.json documents from the folder, registers token n for each\n" +
		"and lists it for --buyer with the terms given by --listing.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "folder",
			Usage:    "IPFS CID of the metadata folder",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "buyer",
			Usage:    "buyer wallet address for every listing",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:  "listing",
			Usage: "listing terms as tokenId:price:escrow:months:ratePercent (display units)",
			Value: cli.NewStringSlice(defaultListings...),
		},
		&cli.BoolFlag{
			Name:  "register-only",
			Usage: "register properties without listing them",
		},
	},
	Action: runSeedCmd,
}

func runSeedCmd(cctx *cli.Context) error {
	buyerHex := cctx.String("buyer")
	if !common.IsHexAddress(buyerHex) {
		return fmt.Errorf("invalid buyer address %q", buyerHex)
	}
	buyer := common.HexToAddress(buyerHex)

	terms := make(map[uint64]services.ListParams)
	for _, spec := range cctx.StringSlice("listing") {
		p, err := parseListingSpec(spec)
		if err != nil {
			return err
		}
		p.Buyer = buyer
		terms[p.TokenID] = p
	}

	e, err := openEnv(cctx.Context, cctx)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cctx.Context
	folder := cctx.String("folder")
	names, err := e.fetcher.ListFolder(ctx, folder)
	if err != nil {
		return fmt.Errorf("list folder %s: %w", folder, err)
	}
	if len(names) == 0 {
		return fmt.Errorf("folder %s has no metadata documents", folder)
	}

	seller := e.cfg.SellerAddress
	registered, listed := 0, 0
	for _, name := range names {
		tokenID, err := tokenIDFromName(name)
		if err != nil {
			e.log.Warn("skipping document", zap.String("name", name), zap.Error(err))
			continue
		}

		p, err := e.properties.RegisterProperty(ctx, seller, tokenID, "ipfs://"+folder+"/"+name)
		if err != nil {
			return fmt.Errorf("register token %d: %w", tokenID, err)
		}
		registered++
		fmt.Fprintf(cctx.App.Writer, "registered %d %q\n", tokenID, p.Name)

		if cctx.Bool("register-only") {
			continue
		}
		t, ok := terms[tokenID]
		if !ok {
			continue
		}
		_, err = e.escrow.List(ctx, seller, t)
		if errors.Is(err, services.ErrAlreadyListed) {
			fmt.Fprintf(cctx.App.Writer, "token %d already listed\n", tokenID)
			continue
		}
		if err != nil {
			return fmt.Errorf("list token %d: %w", tokenID, err)
		}
		listed++
		fmt.Fprintf(cctx.App.Writer, "listed %d for %s ETH (escrow %s)\n",
			tokenID, money.FormatEther(t.PurchasePrice), money.FormatEther(t.EscrowAmount))
	}

	fmt.Fprintf(cctx.App.Writer, "done: %d registered, %d listed\n", registered, listed)
	return nil
}

func parseListingSpec(spec string) (services.ListParams, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 5 {
		return services.ListParams{}, fmt.Errorf("listing %q: want tokenId:price:escrow:months:ratePercent", spec)
	}

	tokenID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return services.ListParams{}, fmt.Errorf("listing %q: token id: %w", spec, err)
	}
	amounts := make([]*big.Int, 2)
	for i, s := range parts[1:3] {
		if amounts[i], err = money.ParseEther(s); err != nil {
			return services.ListParams{}, fmt.Errorf("listing %q: %w", spec, err)
		}
	}
	months, err := strconv.Atoi(parts[3])
	if err != nil {
		return services.ListParams{}, fmt.Errorf("listing %q: months: %w", spec, err)
	}
	rate, err := strconv.Atoi(parts[4])
	if err != nil {
		return services.ListParams{}, fmt.Errorf("listing %q: rate: %w", spec, err)
	}

	return services.ListParams{
		TokenID:         tokenID,
		PurchasePrice:   amounts[0],
		EscrowAmount:    amounts[1],
		LoanTermMonths:  months,
		InterestRateBPS: money.PercentToBPS(rate),
	}, nil
}

// tokenIDFromName maps "3.json" to token 3.
func tokenIDFromName(name string) (uint64, error) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return 0, fmt.Errorf("not a json document")
	}
	return strconv.ParseUint(base, 10, 64)
}
