package cmd

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theapemachine/gridswarm/pkg/rules"
	"github.com/theapemachine/gridswarm/pkg/swarm"
)

var (
	durationFlag    time.Duration
	stepsFlag       int
	patternFlag     string
	simLayoutFlag   string
	exportFlag      string
	seriesFlag      []string
	repetitionsFlag int
	reportFlag      string
	realtimeFlag    bool

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Run the swarm for a fixed time or number of steps",
		Long:  longSimulate,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd)
			defer stop()

			manager, err := swarm.NewManager(cfg.Swarm())
			if err != nil {
				return err
			}

			if _, err = manager.Spawn(simLayoutFlag); err != nil {
				return err
			}
			defer manager.Shutdown()

			if len(seriesFlag) > 0 {
				runner := swarm.NewExperimentRunner(manager)

				if _, err = runner.RunSeries(ctx, seriesFlag, repetitionsFlag, durationFlag); err != nil {
					return err
				}

				return runner.WriteReport(reportFlag)
			}

			if patternFlag != "" {
				if err = manager.InjectPattern(patternFlag, nil, 1.0); err != nil {
					return err
				}
			}

			summary, err := manager.Run(ctx, swarm.RunOptions{
				Duration: durationFlag,
				MaxSteps: stepsFlag,
				Realtime: realtimeFlag,
			})
			if err != nil {
				return err
			}

			if exportFlag != "" {
				if err = manager.ExportFile(exportFlag); err != nil {
					return err
				}
				log.Info("experiment exported", "path", exportFlag)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			return enc.Encode(summary)
		},
	}
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().DurationVarP(&durationFlag, "duration", "d", 10*time.Second, "How long to run")
	simulateCmd.Flags().IntVarP(&stepsFlag, "steps", "n", 0, "Stop after this many steps")
	simulateCmd.Flags().StringVarP(&patternFlag, "pattern", "P", "", "Pattern to inject first: "+strings.Join(rules.PatternNames(), ", "))
	simulateCmd.Flags().StringVarP(&simLayoutFlag, "layout", "l", swarm.LayoutFull, "Agent layout: full, scattered or grid")
	simulateCmd.Flags().BoolVar(&realtimeFlag, "realtime", false, "Pause briefly between steps")
	simulateCmd.Flags().StringVarP(&exportFlag, "export", "o", "", "Write the full step history to this JSON file")
	simulateCmd.Flags().StringSliceVar(&seriesFlag, "series", nil, "Run an emergence series over these patterns")
	simulateCmd.Flags().IntVar(&repetitionsFlag, "repetitions", 3, "Trials per pattern in a series")
	simulateCmd.Flags().StringVar(&reportFlag, "report", "research_report.json", "Where a series writes its report")
}

var longSimulate = `
Run the swarm and print a summary of the run as JSON.

Examples:
  # Ten seconds from a glider
  gridswarm simulate --pattern glider

  # 500 steps as fast as possible, exported
  gridswarm simulate --steps 500 --duration 0 --export run.json

  # Three trials each of two patterns
  gridswarm simulate --series glider,blinker --duration 5s
`
