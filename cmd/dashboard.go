package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/dashboard"
)

var (
	outputFlag string

	dashboardCmd = &cobra.Command{
		Use:   "dashboard [ids...]",
		Short: "Render the gate checkpoints as an HTML dashboard",
		Long:  longDashboard,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []int

			if len(args) > 0 {
				var err error
				if ids, err = parseGateIDs(args); err != nil {
					return err
				}
			}

			ctx, stop := interruptible(cmd)
			defer stop()

			store, err := cfg.Store(ctx)
			if err != nil {
				return err
			}

			output := cfg.Checkpoints.OutputDir
			if cmd.Flags().Changed("output") {
				output = outputFlag
			}

			generator := dashboard.NewGenerator(checkpoint.NewLoader(store), output)

			manifest, err := generator.GenerateAll(ctx, ids)
			if err != nil {
				return err
			}

			fmt.Println(dashboard.RenderTerminal(generator.Extractor().Bundle(ctx, manifest.GateIDs)))
			log.Info("dashboard written", "dir", manifest.OutputDir, "artifacts", manifest.Artifacts)

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().StringVarP(&outputFlag, "output", "o", "dashboard", "Output directory, overrides checkpoints.output_dir")
}

var longDashboard = `
Load the gate checkpoints, verify every result's integrity and write an
HTML dashboard, the extracted metrics and a manifest. Without ids every
gate with a checkpoint is included.

Examples:
  gridswarm dashboard
  gridswarm dashboard 1 2 3 --output reports
`
