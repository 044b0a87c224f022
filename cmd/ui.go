package cmd

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theapemachine/gridswarm/pkg/swarm"
	"github.com/theapemachine/gridswarm/pkg/ui"
)

var (
	uiIntervalFlag time.Duration
	uiLayoutFlag   string

	uiCmd = &cobra.Command{
		Use:   "ui",
		Short: "Watch a swarm evolve in the terminal",
		Long:  longUI,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := swarm.NewManager(cfg.Swarm())
			if err != nil {
				return err
			}

			if _, err = manager.Spawn(uiLayoutFlag); err != nil {
				return err
			}
			defer manager.Shutdown()

			// The alt screen owns stderr while the program runs.
			if cfg.Logging.File == "" {
				log.SetLevel(log.ErrorLevel)
			}

			if _, err = tea.NewProgram(ui.New(manager, uiIntervalFlag), tea.WithAltScreen()).Run(); err != nil {
				log.Error("error while running program", "error", err)
				return err
			}

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(uiCmd)

	uiCmd.Flags().DurationVarP(&uiIntervalFlag, "interval", "i", 100*time.Millisecond, "Time between steps")
	uiCmd.Flags().StringVarP(&uiLayoutFlag, "layout", "l", swarm.LayoutFull, "Agent layout: full, scattered or grid")
}

var longUI = `
Run a swarm in a terminal viewer. Space pauses, s steps once, g injects the
selected pattern, p selects the next pattern and r resets the field.

Examples:
  gridswarm ui --interval 50ms
`
