package cmd

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theapemachine/gridswarm/pkg/bot"
	"github.com/theapemachine/gridswarm/pkg/diagnostics"
	"github.com/theapemachine/gridswarm/pkg/fleet"
)

var (
	botCountFlag int
	promptFlag   string
	roundsFlag   int
	routeFlag    int
	priorityFlag int

	botsCmd = &cobra.Command{
		Use:   "bots [prompt]",
		Short: "Spawn a fleet of chat bots and broadcast a prompt to all of them",
		Long:  longBots,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.CheckProvider(); err != nil {
				return err
			}

			prompt := promptFlag
			if len(args) > 0 {
				prompt = strings.Join(args, " ")
			}

			count := cfg.Bots.Bots
			if cmd.Flags().Changed("count") {
				count = botCountFlag
			}

			ctx, stop := interruptible(cmd)
			defer stop()

			bots := fleet.New(cfg.Bots, cfg.Provider())
			defer func() {
				if err := bots.Shutdown(); err != nil {
					log.Error("fleet shutdown", "error", err)
				}
			}()

			spawned := bots.SpawnStaggered(ctx, count)

			var (
				responses   []bot.Response
				assignments []fleet.Assignment
			)

			router := fleet.NewRouter(bots, cfg.Bots.Strategy)

			for round := 0; round < roundsFlag; round++ {
				if routeFlag > 0 {
					routed, err := routeRound(ctx, router, prompt)
					if err != nil {
						log.Warn("routing incomplete", "round", round, "error", err)
					}

					assignments = append(assignments, routed...)
					responses = append(responses, bots.CollectWithin(ctx, len(routed), cfg.Bots.CollectTimeout)...)
					continue
				}

				if err := bots.Broadcast(ctx, prompt); err != nil {
					log.Warn("broadcast incomplete", "round", round, "error", err)
				}

				responses = append(responses, bots.CollectWithin(ctx, spawned, cfg.Bots.CollectTimeout)...)
			}

			metrics := bots.Metrics()

			var advice *diagnostics.Recommendation

			if diag, err := diagnostics.New(cfg.Diagnostics); err != nil {
				log.Warn("diagnostics unavailable", "error", err)
			} else if rec, err := diag.RecommendScaling(ctx, spawned, metrics.SuccessRate/100); err == nil {
				advice = &rec
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			return enc.Encode(struct {
				Responses      []bot.Response              `json:"responses"`
				Assignments    []fleet.Assignment          `json:"assignments,omitempty"`
				Queue          fleet.QueueStatus           `json:"queue"`
				Metrics        fleet.Metrics               `json:"metrics"`
				Recommendation *diagnostics.Recommendation `json:"recommendation,omitempty"`
			}{responses, assignments, router.QueueStatus(), metrics, advice})
		},
	}
)

// routeRound queues routeFlag copies of prompt and dispatches them.
func routeRound(ctx context.Context, router *fleet.Router, prompt string) ([]fleet.Assignment, error) {
	for i := 0; i < routeFlag; i++ {
		if _, err := router.Submit(prompt, priorityFlag); err != nil {
			return nil, err
		}
	}

	return router.Dispatch(ctx, 0)
}

func init() {
	rootCmd.AddCommand(botsCmd)

	botsCmd.Flags().IntVarP(&botCountFlag, "count", "c", 4, "Number of bots, overrides bots.count")
	botsCmd.Flags().StringVarP(&promptFlag, "prompt", "m", "Describe what a glider does in one sentence.", "Prompt to broadcast")
	botsCmd.Flags().IntVarP(&roundsFlag, "rounds", "r", 1, "How many times to broadcast")
	botsCmd.Flags().IntVar(&routeFlag, "route", 0, "Route this many copies of the prompt to single bots instead of broadcasting")
	botsCmd.Flags().IntVar(&priorityFlag, "priority", fleet.PriorityNormal, "Priority of routed prompts, 1 normal to 3 urgent")
}

var longBots = `
Spawn bots against the configured model provider, broadcast a prompt to
every bot and print their answers with the fleet metrics as JSON. With
--route the prompt goes to single bots picked by bots.strategy instead.
A scaling recommendation from the host diagnostics closes the report.

Examples:
  gridswarm bots "What is a half-life?"
  gridswarm bots --count 16 --rounds 3
  gridswarm bots --route 8 --priority 3 "Summarize the grid rules."
`
