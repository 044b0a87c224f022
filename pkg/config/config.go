/*
Package config maps the viper configuration onto the typed configs of the
other packages. Every section starts from that package's defaults, so a
config file only needs the keys it changes.
*/
package config

import (
	"context"
	"strings"
	"time"

	"github.com/cohesivestack/valgo"
	"github.com/spf13/viper"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/diagnostics"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/fleet"
	"github.com/theapemachine/gridswarm/pkg/gate"
	"github.com/theapemachine/gridswarm/pkg/provider"
	"github.com/theapemachine/gridswarm/pkg/rules"
	"github.com/theapemachine/gridswarm/pkg/swarm"
)

type Grid struct {
	Size     int     `mapstructure:"size"`
	Rank     int     `mapstructure:"rank"`
	HalfLife float64 `mapstructure:"half_life"`
	Seed     int64   `mapstructure:"seed"`
}

type Agent struct {
	Threshold float64 `mapstructure:"threshold"`
	Strength  float64 `mapstructure:"strength"`
	Density   float64 `mapstructure:"density"`
	Stride    int     `mapstructure:"stride"`
}

type Model struct {
	Provider string `mapstructure:"provider"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	APIKey   string `mapstructure:"api_key"`
}

type Checkpoints struct {
	Dir       string              `mapstructure:"dir"`
	OutputDir string              `mapstructure:"output_dir"`
	S3        checkpoint.S3Config `mapstructure:"s3"`
}

type Logging struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type Serve struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	StepInterval  time.Duration `mapstructure:"step_interval"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	MaxSteps      int           `mapstructure:"max_steps"`
}

type Config struct {
	Grid        Grid               `mapstructure:"grid"`
	Agent       Agent              `mapstructure:"agent"`
	Rules       rules.Params       `mapstructure:"rules"`
	Bots        fleet.Config       `mapstructure:"bots"`
	Model       Model              `mapstructure:"model"`
	Gates       gate.Config        `mapstructure:"gates"`
	Checkpoints Checkpoints        `mapstructure:"checkpoints"`
	Logging     Logging            `mapstructure:"logging"`
	Serve       Serve              `mapstructure:"serve"`
	Diagnostics diagnostics.Config `mapstructure:"diagnostics"`
}

func Default() Config {
	sw := swarm.DefaultConfig()
	bots := fleet.DefaultConfig()

	return Config{
		Grid:  Grid{Size: sw.GridSize, Rank: sw.Rank, HalfLife: sw.HalfLife, Seed: sw.Seed},
		Agent: Agent{Threshold: sw.Threshold, Strength: sw.Strength, Density: sw.Density, Stride: sw.Stride},
		Rules: sw.Rules,
		Bots:  bots,
		Model: Model{
			Provider: "ollama",
			Name:     bots.Bot.Model,
		},
		Gates:       gate.DefaultConfig(),
		Checkpoints: Checkpoints{Dir: checkpoint.DefaultDir, OutputDir: "dashboard"},
		Logging:     Logging{Level: "info"},
		Serve: Serve{
			Host:          "0.0.0.0",
			Port:          3210,
			StepInterval:  100 * time.Millisecond,
			ShutdownGrace: 5 * time.Second,
			MaxSteps:      1000,
		},
		Diagnostics: diagnostics.DefaultConfig(),
	}
}

// Load decodes v over the defaults and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.ErrInvalidConfig.WithMessagef("decoding configuration: %v", err)
	}

	if cfg.Model.Name != "" {
		cfg.Bots.Bot.Model = cfg.Model.Name
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (cfg Config) Validate() error {
	v := valgo.Is(valgo.Int(cfg.Bots.Bots, "bots.count").GreaterOrEqualTo(0)).
		Is(valgo.Int(cfg.Bots.Bot.QueueSize, "bots.bot.queue_size").GreaterThan(0)).
		Is(valgo.String(strings.ToLower(cfg.Bots.Strategy), "bots.strategy").InSlice([]string{fleet.RoundRobin, fleet.LeastLoaded})).
		Is(valgo.String(strings.ToLower(cfg.Model.Provider), "model.provider").InSlice([]string{"ollama", "openai", "anthropic", "cohere", "deepseek", "google", "gemini"})).
		Is(valgo.String(cfg.Model.Name, "model.name").Not().Blank()).
		Is(valgo.Int(cfg.Gates.GridSize, "gates.grid_size").GreaterThan(0)).
		Is(valgo.Int(cfg.Gates.Rank, "gates.rank").Between(2, 8)).
		Is(valgo.Int64(int64(cfg.Gates.LoadDuration), "gates.load_duration").GreaterThan(0)).
		Is(valgo.Int64(int64(cfg.Gates.SampleInterval), "gates.sample_interval").GreaterThan(0)).
		Is(valgo.Int64(int64(cfg.Gates.MinMeasure), "gates.min_measure").GreaterOrEqualTo(0)).
		Is(valgo.Int(cfg.Gates.BaselineWorkers, "gates.baseline_workers").GreaterThan(0)).
		Is(valgo.Int64(int64(cfg.Gates.BaselineTask), "gates.baseline_task").GreaterThan(0)).
		Is(valgo.String(cfg.Checkpoints.Dir, "checkpoints.dir").Not().Blank()).
		Is(valgo.String(strings.ToLower(cfg.Logging.Level), "logging.level").InSlice([]string{"debug", "info", "warn", "error"})).
		Is(valgo.Int(cfg.Serve.Port, "serve.port").Between(1, 65535)).
		Is(valgo.Int(cfg.Serve.MaxSteps, "serve.max_steps").GreaterThan(0)).
		Is(valgo.Float64(cfg.Diagnostics.MaxMemoryPercent, "diagnostics.max_memory_percent").Between(1.0, 100.0)).
		Is(valgo.Float64(cfg.Diagnostics.MaxCPUPercent, "diagnostics.max_cpu_percent").Between(1.0, 100.0))

	var failures []any

	if !v.Valid() {
		failures = append(failures, errors.ErrInvalidConfig.WithMessagef("invalid configuration: %v", v.Error()))
	}

	if err := cfg.Swarm().Validate(); err != nil {
		failures = append(failures, err)
	}

	if len(failures) == 0 {
		return nil
	}

	return errors.NewError(failures...)
}

// Swarm assembles the simulation config from the grid, agent and rules sections.
func (cfg Config) Swarm() swarm.Config {
	return swarm.Config{
		GridSize:  cfg.Grid.Size,
		Rank:      cfg.Grid.Rank,
		HalfLife:  cfg.Grid.HalfLife,
		Seed:      cfg.Grid.Seed,
		Threshold: cfg.Agent.Threshold,
		Strength:  cfg.Agent.Strength,
		Density:   cfg.Agent.Density,
		Stride:    cfg.Agent.Stride,
		Rules:     cfg.Rules,
	}
}

// Store opens S3 checkpoint storage when an endpoint is set, else the directory.
func (cfg Config) Store(ctx context.Context) (checkpoint.Store, error) {
	if cfg.Checkpoints.S3.Endpoint == "" {
		return checkpoint.NewFileStore(cfg.Checkpoints.Dir), nil
	}

	store, err := checkpoint.NewS3Store(cfg.Checkpoints.S3)
	if err != nil {
		return nil, err
	}

	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

/*
Provider builds the configured chat backend. Every bot gets its own
instance so no client state is shared across bots.
*/
func (cfg Config) Provider() fleet.Factory {
	return func(int) provider.Interface {
		prvdr, err := provider.New(cfg.Model.Provider, cfg.Model.Host, cfg.Model.APIKey)
		if err != nil {
			return failing{err: err}
		}
		return prvdr
	}
}

// CheckProvider confirms the configured provider name resolves.
func (cfg Config) CheckProvider() error {
	_, err := provider.New(cfg.Model.Provider, cfg.Model.Host, cfg.Model.APIKey)
	return err
}

type failing struct {
	err error
}

func (f failing) Name() string { return "unavailable" }

func (f failing) Chat(context.Context, provider.Request) (string, error) {
	return "", f.err
}
