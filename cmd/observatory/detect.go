package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/observatory/internal/flows"
)

var (
	detectWindow    string
	detectCountries string
	detectThreshold float64
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Compute hotspots and flows from stored observations",
	Long: `Runs one detection over the stored observations and prints the response as
JSON. Without --countries every country with observations in the window is used.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		req := flows.Request{TimeWindow: detectWindow}
		if req.TimeWindow == "" {
			req.TimeWindow = cfg.Detector.DefaultTimeWindow
		}
		for _, c := range strings.Split(detectCountries, ",") {
			if c = strings.TrimSpace(c); c != "" {
				req.Countries = append(req.Countries, c)
			}
		}
		if cmd.Flags().Changed("threshold") {
			req.Threshold = &detectThreshold
		}

		resp, err := a.detector.Detect(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectWindow, "window", "w", "", "time window: 1h, 6h, 12h or 24h (default detector.default_time_window)")
	detectCmd.Flags().StringVar(&detectCountries, "countries", "", "comma-separated ISO 3166-1 alpha-2 codes")
	detectCmd.Flags().Float64Var(&detectThreshold, "threshold", 0, "minimum heat (default scoring.flow_threshold)")
	rootCmd.AddCommand(detectCmd)
}
