package main

import (
	"fmt"

	"github.com/itohio/gobuddy/pkg/loadcell"
	"github.com/spf13/cobra"
)

func newFilterCmd(a *app) *cobra.Command {
	var (
		points    int
		bins      bool
		step      float32
		tolerance float32
	)
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Print the frequency response of the load cell band-pass filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if points < 16 {
				return fmt.Errorf("points must be at least 16, got %d", points)
			}
			rate := a.cfg.HX717.SampleRate
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "%-6s %10s %10s %10s %10s %10s\n",
				"filter", "peak_hz", "peak_db", "dc_db", "settle", "settle_ms")
			for _, spec := range []*loadcell.FilterSpec{&loadcell.ZFilter, &loadcell.XYFilter} {
				resp := loadcell.FrequencyResponse(spec, points, rate)
				peak := loadcell.Peak(resp)
				settle := loadcell.StepSettling(spec, step, tolerance, points)
				fmt.Fprintf(out, "%-6s %10.2f %10.2f %10.2f %10d %10.1f\n",
					spec.Name, peak.Freq, peak.DB, resp[0].DB, settle, 1000*float64(settle)/rate)

				if bins {
					for _, p := range resp {
						fmt.Fprintf(out, "  %s %8.3f Hz %9.3f dB\n", spec.Name, p.Freq, p.DB)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&points, "points", 1024, "Impulse response length")
	cmd.Flags().BoolVar(&bins, "bins", false, "Print every frequency bin")
	cmd.Flags().Float32Var(&step, "step", 1000, "Step height in grams for the settling test")
	cmd.Flags().Float32Var(&tolerance, "tolerance", 1, "Settled band in grams")
	return cmd
}
