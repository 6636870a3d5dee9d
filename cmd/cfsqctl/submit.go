package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clouddfe/cfsq/internal/api"
	"github.com/clouddfe/cfsq/internal/domain"
)

var submitFlags struct {
	srcmods  []string
	friction float64
	muLambda float64
	nearDist float64
	spacing  float64
	obsDepth float64
	days     float64
	catalog  string
	priority bool
	depths   string
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a batch of CFS runs",
	Long: `Submit one job per srcmod file, optionally expanded over a depth sweep.
A sweep is start:end:steps in meters, e.g. --depths=-2500:-47500:10.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(submitFlags.srcmods) == 0 {
			return fmt.Errorf("at least one --srcmod is required")
		}
		depths := []float64{submitFlags.obsDepth}
		if submitFlags.depths != "" {
			var err error
			depths, err = parseSweep(submitFlags.depths)
			if err != nil {
				return err
			}
		}

		var req api.SubmitRequest
		for _, f := range submitFlags.srcmods {
			for _, d := range depths {
				req.Jobs = append(req.Jobs, api.SubmitItem{
					Params: domain.Params{
						Srcmod:            f,
						Friction:          submitFlags.friction,
						MuLambdaLame:      submitFlags.muLambda,
						NearFieldDistance: submitFlags.nearDist,
						SpacingGrid:       submitFlags.spacing,
						ObsDepth:          d,
						Days:              submitFlags.days,
						Catalog:           domain.Catalog(submitFlags.catalog),
					},
					Priority: submitFlags.priority,
				})
			}
		}

		var resp api.SubmitResponse
		if err := postJSON("/v1/jobs", req, &resp); err != nil {
			return err
		}
		for _, id := range resp.IDs {
			fmt.Println(id)
		}
		fmt.Printf("%d jobs submitted\n", len(resp.IDs))
		return nil
	},
}

func init() {
	f := submitCmd.Flags()
	f.StringSliceVar(&submitFlags.srcmods, "srcmod", nil, "srcmod source file, repeatable (e.g. s2011TOHOKU01AMMO.fsp)")
	f.Float64Var(&submitFlags.friction, "friction", 0.4, "coefficient of friction")
	f.Float64Var(&submitFlags.muLambda, "mu-lambda", 3e10, "Lame parameter (mu = lambda)")
	f.Float64Var(&submitFlags.nearDist, "near-field", 100e3, "near field distance in meters")
	f.Float64Var(&submitFlags.spacing, "spacing", 10e3, "grid spacing in meters")
	f.Float64Var(&submitFlags.obsDepth, "depth", -10e3, "observation depth in meters")
	f.Float64Var(&submitFlags.days, "days", 100, "aftershock window in days")
	f.StringVar(&submitFlags.catalog, "catalog", "rev", "ISC catalog: rev, ehb or comp")
	f.BoolVar(&submitFlags.priority, "priority", false, "boost these jobs ahead of the queue")
	f.StringVar(&submitFlags.depths, "depths", "", "depth sweep start:end:steps, overrides --depth")
}

// parseSweep expands start:end:steps into an inclusive linear spacing.
func parseSweep(s string) ([]float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("sweep must be start:end:steps, got %q", s)
	}
	start, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("bad sweep start: %w", err)
	}
	end, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("bad sweep end: %w", err)
	}
	steps, err := strconv.Atoi(parts[2])
	if err != nil || steps < 2 {
		return nil, fmt.Errorf("sweep steps must be an integer >= 2, got %q", parts[2])
	}
	if start > end {
		start, end = end, start
	}
	step := (end - start) / float64(steps-1)
	out := make([]float64, 0, steps)
	for i := 0; i < steps-1; i++ {
		out = append(out, start+float64(i)*step)
	}
	return append(out, end), nil
}
