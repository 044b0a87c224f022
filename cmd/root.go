/*
Package cmd implements the gridswarm command line. Every command reads the
same config file, so the grid, bots and gates can be tuned in one place.
*/
package cmd

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/theapemachine/gridswarm/pkg/config"
	"github.com/theapemachine/gridswarm/pkg/logging"
)

/*
Embed a mini filesystem into the binary to hold the default config file.
It is written to the home directory of the user on first run, so it can be
edited there.
*/
//go:embed cfg/*
var embedded embed.FS

var (
	projectName = "gridswarm"
	cfgFile     string
	apiKey      string
	logLevel    string

	// cfg is loaded once before any command runs.
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "gridswarm",
		Short: "A LoRA-compressed grid swarm and its validation gates",
		Long:  longRoot,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Close()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yml",
		"config file (default is $HOME/."+projectName+"/config.yml)",
	)

	rootCmd.PersistentFlags().StringVar(
		&apiKey,
		"api-key",
		"",
		"API key for the model provider, overrides model.api_key",
	)

	rootCmd.PersistentFlags().StringVar(
		&logLevel,
		"log-level",
		"",
		"log level, overrides logging.level",
	)

	_ = viper.BindPFlag("model.api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

/*
initConfig writes the default config file to the user's home directory if
it doesn't exist, reads it back and decodes it into cfg.
*/
func initConfig() {
	var err error

	if err = writeConfig(); err != nil {
		log.Fatal("writing default config", "error", err)
	}

	home, _ := os.UserHomeDir()

	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(filepath.Join(home, "."+projectName))
	viper.SetEnvPrefix(projectName)
	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		log.Fatal("reading config", "error", err)
	}

	if cfg, err = config.Load(viper.GetViper()); err != nil {
		log.Fatal("invalid config", "error", err)
	}

	if err = logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		log.Fatal("initializing logging", "error", err)
	}
}

/*
writeConfig writes the embedded config files to the user's home directory,
leaving any existing file untouched.
*/
func writeConfig() (err error) {
	var (
		home, _ = os.UserHomeDir()
		fh      fs.File
		buf     bytes.Buffer
	)

	configDir := filepath.Join(home, "."+projectName)
	if !CheckFileExists(configDir) {
		if err = os.MkdirAll(configDir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	for _, file := range []string{cfgFile} {
		fullPath := filepath.Join(configDir, file)

		if CheckFileExists(fullPath) {
			continue
		}

		if fh, err = embedded.Open("cfg/" + file); err != nil {
			return fmt.Errorf("failed to open embedded config file: %w", err)
		}

		if _, err = io.Copy(&buf, fh); err != nil {
			fh.Close()
			return fmt.Errorf("failed to read embedded config file: %w", err)
		}

		if err = os.WriteFile(fullPath, buf.Bytes(), 0644); err != nil {
			fh.Close()
			return fmt.Errorf("failed to write config file: %w", err)
		}

		log.Info("wrote config file", "path", fullPath)
		buf.Reset()
		fh.Close()
	}

	return nil
}

func CheckFileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !errors.Is(err, os.ErrNotExist)
}

var longRoot = `
gridswarm runs a square grid of agents that share one low-rank factored
field. Agents activate on the local field, follow Conway-style neighbour
rules and write their activity back as deltas that decay with a half-life.

It also drives a fleet of LLM bots, runs the five validation gates with
hardware-backed proof records, and renders a dashboard from the checkpoints.
`

// interruptible cancels the command's context on SIGINT or SIGTERM.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
