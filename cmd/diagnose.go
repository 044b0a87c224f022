package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/theapemachine/gridswarm/pkg/diagnostics"
)

var (
	diagnoseBotsFlag    int
	diagnoseSuccessFlag float64

	diagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Check host memory and CPU pressure and advise on fleet size",
		Long:  longDiagnose,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd)
			defer stop()

			diag, err := diagnostics.New(cfg.Diagnostics)
			if err != nil {
				return err
			}

			bots := cfg.Bots.Bots
			if cmd.Flags().Changed("bots") {
				bots = diagnoseBotsFlag
			}

			advice, err := diag.RecommendScaling(ctx, bots, diagnoseSuccessFlag)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			return enc.Encode(struct {
				Checks         []diagnostics.Result       `json:"checks"`
				Health         diagnostics.Health         `json:"health"`
				Recommendation diagnostics.Recommendation `json:"recommendation"`
			}{diag.History(), diag.HealthSummary(), advice})
		},
	}
)

func init() {
	rootCmd.AddCommand(diagnoseCmd)

	diagnoseCmd.Flags().IntVarP(&diagnoseBotsFlag, "bots", "b", 4, "Current fleet size, overrides bots.count")
	diagnoseCmd.Flags().Float64VarP(&diagnoseSuccessFlag, "success-rate", "s", 1, "Observed success rate as a fraction")
}

var longDiagnose = `
Read memory and CPU pressure from /proc, grade them against the
diagnostics section of the config and print a scaling recommendation for
a fleet of the given size.

Examples:
  gridswarm diagnose
  gridswarm diagnose --bots 12 --success-rate 0.7
`
