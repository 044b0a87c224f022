package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/dashboard"
	"github.com/theapemachine/gridswarm/pkg/gate"
)

var (
	loadDurationFlag string

	gateCmd = &cobra.Command{
		Use:   "gate [ids...]",
		Short: "Run validation gates and record their proofs",
		Long:  longGate,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseGateIDs(args)
			if err != nil {
				return err
			}

			ctx, stop := interruptible(cmd)
			defer stop()

			gateCfg := cfg.Gates
			if cmd.Flags().Changed("load-duration") {
				if gateCfg.LoadDuration, err = parseDuration(loadDurationFlag); err != nil {
					return err
				}
			}

			store, err := cfg.Store(ctx)
			if err != nil {
				return err
			}

			runner := gate.NewRunner(store, gateCfg)
			log.Info("running gates", "ids", ids, "run_id", runner.RunID())

			if _, err = runner.RunAll(ctx, ids); err != nil {
				return err
			}

			bundle := dashboard.NewExtractor(checkpoint.NewLoader(store)).Bundle(ctx, ids)
			fmt.Println(dashboard.RenderTerminal(bundle))

			for _, id := range ids {
				if !bundle.Gates[id].Passed {
					return fmt.Errorf("gate %d failed", id)
				}
			}

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(gateCmd)

	gateCmd.Flags().StringVar(&loadDurationFlag, "load-duration", "", "Override gates.load_duration for gate 5")
}

// parseGateIDs reads gate numbers from args, all gates when there are none.
func parseGateIDs(args []string) ([]int, error) {
	if len(args) == 0 {
		return gate.IDs(), nil
	}

	ids := make([]int, 0, len(args))

	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("gate id %q is not a number", arg)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", d)
	}
	return d, nil
}

var longGate = `
Run one or more of the validation gates. Gate 0 is the baseline parallelism
check and runs first when no ids are given. Each run records a hardware
proof chain and a signed gate result in the checkpoint store, then prints
the results. The command fails when any gate fails.

Examples:
  # All gates
  gridswarm gate

  # Baseline parallelism only
  gridswarm gate 0

  # Compression and decay only
  gridswarm gate 1 4

  # The sustained load gate with a short window
  gridswarm gate 5 --load-duration 10s
`
