/*
Package scaffold lays out a working directory for a gated swarm build: the
directory tree, a starter configuration and the guides an operator follows
while taking the build through its validation gates.
*/
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"gopkg.in/yaml.v3"
)

// Directories created under Root, in order.
var Directories = []string{"core", "config", "utils", "tests", "logs", "docs", checkpoint.DefaultDir}

// SwarmConfig is the starter configuration written to config/swarm_config.yaml.
type SwarmConfig struct {
	Grid struct {
		Size     int     `yaml:"size"`
		Rank     int     `yaml:"rank"`
		HalfLife float64 `yaml:"half_life"`
		Seed     int64   `yaml:"seed"`
	} `yaml:"grid"`
	Agent struct {
		Threshold float64 `yaml:"threshold"`
		Strength  float64 `yaml:"strength"`
	} `yaml:"agent"`
	Bots struct {
		Count          int    `yaml:"count"`
		Heartbeat      string `yaml:"heartbeat"`
		RequestTimeout string `yaml:"request_timeout"`
		SpawnStagger   string `yaml:"spawn_stagger"`
	} `yaml:"bots"`
	Model struct {
		Provider string `yaml:"provider"`
		Name     string `yaml:"name"`
		Host     string `yaml:"host"`
	} `yaml:"model"`
	Gates struct {
		Order        []int  `yaml:"order"`
		LoadDuration string `yaml:"load_duration"`
	} `yaml:"gates"`
	Checkpoints struct {
		Dir string `yaml:"dir"`
	} `yaml:"checkpoints"`
}

func DefaultSwarmConfig() SwarmConfig {
	var cfg SwarmConfig

	cfg.Grid.Size = 12
	cfg.Grid.Rank = 4
	cfg.Grid.HalfLife = 20
	cfg.Grid.Seed = 42
	cfg.Agent.Threshold = 0.1
	cfg.Agent.Strength = 0.5
	cfg.Bots.Count = 4
	cfg.Bots.Heartbeat = "100ms"
	cfg.Bots.RequestTimeout = "30s"
	cfg.Bots.SpawnStagger = "50ms"
	cfg.Model.Provider = "ollama"
	cfg.Model.Name = "gemma3:270m"
	cfg.Model.Host = "http://localhost:11434"
	cfg.Gates.Order = checkpoint.GateIDs()
	cfg.Gates.LoadDuration = "60s"
	cfg.Checkpoints.Dir = checkpoint.DefaultDir

	return cfg
}

/*
Generator writes the scaffold. Existing files are left alone unless Force
is set, so a scaffold can be re-run over a build in progress.
*/
type Generator struct {
	Root   string
	Force  bool
	Config SwarmConfig
}

func New(root string, force bool) *Generator {
	return &Generator{Root: root, Force: force, Config: DefaultSwarmConfig()}
}

// Generate creates the tree and returns the files it wrote, relative to Root.
func (generator *Generator) Generate() ([]string, error) {
	log.Info("scaffolding build", "root", generator.Root, "force", generator.Force)

	for _, dir := range Directories {
		if err := os.MkdirAll(filepath.Join(generator.Root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	config, err := yaml.Marshal(&generator.Config)
	if err != nil {
		return nil, fmt.Errorf("marshalling swarm config: %w", err)
	}

	files := []struct {
		path string
		data []byte
	}{
		{"config/swarm_config.yaml", append([]byte("# Swarm configuration, generated by scaffold.\n\n"), config...)},
		{"docs/BUILD_GUIDE.md", []byte(buildGuide())},
		{"docs/GATES.md", []byte(gatesDoc())},
		{"docs/TROUBLESHOOTING.md", []byte(troubleshooting)},
		{filepath.Join(checkpoint.DefaultDir, "README.md"), []byte(checkpointReadme)},
	}

	var created []string

	for _, file := range files {
		path := filepath.Join(generator.Root, file.path)

		if _, err := os.Stat(path); err == nil && !generator.Force {
			log.Debug("keeping existing file", "path", path)
			continue
		}

		if err := os.WriteFile(path, file.data, 0o644); err != nil {
			return created, fmt.Errorf("writing %s: %w", file.path, err)
		}

		created = append(created, filepath.ToSlash(file.path))
	}

	log.Info("scaffold complete", "created", len(created))

	return created, nil
}

// LoadConfig reads a swarm_config.yaml written by Generate.
func LoadConfig(path string) (SwarmConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return SwarmConfig{}, err
	}

	var cfg SwarmConfig

	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return SwarmConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

func buildGuide() string {
	var b strings.Builder

	b.WriteString("# Build guide\n\n")
	b.WriteString("Work through the phases in order. Do not start a phase until the gate\n")
	b.WriteString("closing the previous one has a verified checkpoint.\n\n")

	phases := []string{
		"Environment: install Go and a local ollama, pull the model named in config/swarm_config.yaml.",
		"Grid: run `gridswarm simulate --steps 10` and confirm the compression report.",
		"Gates: run `gridswarm gate` and wait for every checkpoint to be written.",
		"Bots: run `gridswarm bots --count 2` before scaling to the configured count.",
		"Report: run `gridswarm dashboard` and review dashboard.html.",
	}

	for i, phase := range phases {
		fmt.Fprintf(&b, "%d. %s\n", i+1, phase)
	}

	b.WriteString("\nSee docs/GATES.md for pass criteria and docs/TROUBLESHOOTING.md when a step fails.\n")

	return b.String()
}

func gatesDoc() string {
	var b strings.Builder

	b.WriteString("# Validation gates\n\n")
	b.WriteString("| ID | Name | Checkpoint |\n|---|---|---|\n")

	for _, id := range checkpoint.GateIDs() {
		name := checkpoint.GateNames[id]
		fmt.Fprintf(&b, "| %d | %s | `%s` |\n", id, name, checkpoint.GateResultKey(id, name))
	}

	b.WriteString("\nA gate passes only with a HARDWARE_VERIFIED checkpoint. Re-run a failed\n")
	b.WriteString("gate with `gridswarm gate <id>`; earlier checkpoints are never edited by hand.\n")

	return b.String()
}

const troubleshooting = `# Troubleshooting

## Bots fail the health check
Check that ollama is running and the model is pulled. The health check
sends one short prompt; a timeout there means the model is still loading.

## Baseline gate fails
Gate 0 needs one free core per gates.baseline_workers. Run gridswarm
diagnose to see memory and load before scaling the fleet.

## Sustained load gate is slow
Lower grid.size for local iteration. The gate needs at least 0.1 steps/s
over half of the configured load duration.

## Dashboard refuses to render
Every requested gate needs a checkpoint that passes integrity validation.
Run the missing gates first, then generate the dashboard again.
`

const checkpointReadme = `# Checkpoints

Gate runs write gate_{id}_{name}_hardware_verified.json and .proof files
here. Files are produced by the gate runner only.
`
