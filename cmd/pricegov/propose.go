package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricegov/internal/models"
	"pricegov/internal/protocol"
)

func proposeCmd() *cobra.Command {
	var (
		algorithm string
		seedPrice string
		seedCost  string
	)
	cmd := &cobra.Command{
		Use:   "propose [sku]",
		Short: "Run the optimizer once and wait for the governance decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := seed(ctx, a, args[0], seedPrice, seedCost); err != nil {
				return err
			}
			p, err := a.optimizer.Propose(ctx, args[0], algorithm)
			if err != nil {
				return err
			}
			a.drain()
			return printDecision(cmd, a, p)
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "rule_based, ml_model or profit_maximization (default from config)")
	cmd.Flags().StringVar(&seedPrice, "price", "", "ledger price to seed when the sku has none")
	cmd.Flags().StringVar(&seedCost, "cost", "", "unit cost to store for the sku")
	return cmd
}

// seed writes the ledger row only when absent so a live price is never
// overwritten outside the compare-and-swap path.
func seed(ctx context.Context, a *app, sku, price, cost string) error {
	now := time.Now().UTC()
	if price != "" {
		v, err := decimal.NewFromString(price)
		if err != nil || !v.IsPositive() {
			return fmt.Errorf("invalid --price %q", price)
		}
		current, err := a.store.GetLedger(ctx, sku)
		if err != nil {
			return err
		}
		if current == nil {
			if err := a.store.UpsertLedger(ctx, &models.PricingLedger{ProductName: sku, Price: v, LastUpdate: now, Reason: "seed"}); err != nil {
				return err
			}
		}
	}
	if cost != "" {
		v, err := decimal.NewFromString(cost)
		if err != nil || v.IsNegative() {
			return fmt.Errorf("invalid --cost %q", cost)
		}
		product, err := a.store.GetProduct(ctx, sku)
		if err != nil {
			return err
		}
		if product == nil {
			product = &models.Product{SKU: sku, Name: sku}
		}
		product.Cost = v
		product.UpdatedAt = now
		if err := a.store.UpsertProduct(ctx, product); err != nil {
			return err
		}
	}
	return nil
}

func printDecision(cmd *cobra.Command, a *app, p protocol.PriceProposal) error {
	row, err := a.store.GetDecision(context.Background(), p.ProposalID)
	if err != nil {
		return err
	}
	out := map[string]any{"proposal": p, "decision": row}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
