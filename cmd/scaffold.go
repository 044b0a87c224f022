package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theapemachine/gridswarm/pkg/scaffold"
)

var (
	forceFlag bool

	scaffoldCmd = &cobra.Command{
		Use:   "scaffold <dir>",
		Short: "Create a project directory with a swarm config and the gate docs",
		Long:  longScaffold,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := scaffold.New(args[0], forceFlag).Generate()
			if err != nil {
				return err
			}

			for _, file := range created {
				log.Info("created", "file", file)
			}

			if len(created) == 0 {
				log.Info("nothing to do, every file exists", "hint", "use --force to overwrite")
			}

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(scaffoldCmd)

	scaffoldCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Overwrite existing files")
}

var longScaffold = `
Lay out a swarm project: the core, config, utils, tests, logs, docs and
.checkpoints directories, a default swarm_config.yaml, a build guide, the
gate reference and a troubleshooting guide.

Examples:
  gridswarm scaffold ./my-swarm
  gridswarm scaffold ./my-swarm --force
`
