package main

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pricegov/internal/protocol"
	"pricegov/internal/repository"
)

func fetchCmd() *cobra.Command {
	var (
		sources []string
		urls    []string
		depth   int
		horizon int
	)
	cmd := &cobra.Command{
		Use:   "fetch [sku]",
		Short: "Publish one fetch request and wait for its ingestion jobs",
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

			req := protocol.FetchRequest{
				RequestID:      uuid.NewString(),
				SKU:            args[0],
				Market:         cfg.MarketData.Market,
				Sources:        cfg.MarketData.Sources,
				URLs:           cfg.MarketData.URLs,
				Depth:          cfg.MarketData.Depth,
				HorizonMinutes: cfg.MarketData.HorizonMinutes,
			}
			if cmd.Flags().Changed("source") {
				req.Sources = sources
			}
			if cmd.Flags().Changed("url") {
				req.URLs = urls
			}
			if cmd.Flags().Changed("depth") {
				req.Depth = depth
			}
			if cmd.Flags().Changed("horizon") {
				req.HorizonMinutes = horizon
			}
			if err := a.bus.Publish(ctx, req); err != nil {
				return err
			}
			a.drain()

			jobs, err := a.store.ListIngestionJobs(ctx, repository.ListIngestionJobsParams{RequestID: &req.RequestID})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"request_id": req.RequestID, "jobs": jobs})
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source names (default from config)")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "explicit URLs to fetch")
	cmd.Flags().IntVar(&depth, "depth", 0, "max ticks per source call")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "drop ticks older than this many minutes")
	return cmd
}
