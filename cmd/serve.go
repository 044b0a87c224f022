package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/service"
	"github.com/theapemachine/gridswarm/pkg/swarm"
)

var (
	portFlag   int
	hostFlag   string
	layoutFlag string
	pausedFlag bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve a running swarm, its metrics and the gate checkpoints over HTTP",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd)
			defer stop()

			manager, err := swarm.NewManager(cfg.Swarm())
			if err != nil {
				return err
			}

			if _, err = manager.Spawn(layoutFlag); err != nil {
				return err
			}

			store, err := cfg.Store(ctx)
			if err != nil {
				return err
			}

			host, port := cfg.Serve.Host, cfg.Serve.Port
			if cmd.Flags().Changed("host") {
				host = hostFlag
			}
			if cmd.Flags().Changed("port") {
				port = portFlag
			}

			interval := cfg.Serve.StepInterval
			if pausedFlag {
				interval = 0
			}

			return service.NewServer(
				manager,
				checkpoint.NewLoader(store),
				service.WithAddr(fmt.Sprintf("%s:%d", host, port)),
				service.WithStepInterval(interval),
				service.WithShutdownGrace(cfg.Serve.ShutdownGrace),
				service.WithMaxSteps(cfg.Serve.MaxSteps),
			).Start(ctx)
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 3210, "Port to serve on")
	serveCmd.Flags().StringVarP(&hostFlag, "host", "H", "0.0.0.0", "Host address to bind to")
	serveCmd.Flags().StringVarP(&layoutFlag, "layout", "l", swarm.LayoutFull, "Agent layout: full, scattered or grid")
	serveCmd.Flags().BoolVar(&pausedFlag, "paused", false, "Only step the swarm on POST /grid/step")
}

var longServe = `
Serve a swarm over HTTP. The swarm steps in the background at
serve.step_interval unless --paused is given.

Examples:
  # Serve on the configured port
  gridswarm serve

  # Serve a scattered swarm on port 8080 and step it by hand
  gridswarm serve --port 8080 --layout scattered --paused
`
