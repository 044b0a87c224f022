/*
Package gate holds the validation gates: short, bounded experiments on the
grid swarm that compare one measured number against a fixed threshold.
*/
package gate

import (
	"context"
	"sort"
	"time"

	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

// Result is one gate verdict. It is the test result inside a checkpoint.
type Result struct {
	ID        int            `json:"gate_id"`
	Name      string         `json:"gate_name"`
	Criteria  string         `json:"gate_criteria"`
	Passed    bool           `json:"gate_passed"`
	Measured  float64        `json:"measured"`
	Threshold float64        `json:"threshold"`
	Reason    string         `json:"reason"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  float64        `json:"execution_time_seconds"`
}

type Config struct {
	GridSize       int           `mapstructure:"grid_size"`
	Rank           int           `mapstructure:"rank"`
	LoadDuration   time.Duration `mapstructure:"load_duration"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	MinMeasure     time.Duration `mapstructure:"min_measure"`

	BaselineWorkers int           `mapstructure:"baseline_workers"`
	BaselineTask    time.Duration `mapstructure:"baseline_task"`
}

func DefaultConfig() Config {
	return Config{
		GridSize:       12,
		Rank:           4,
		LoadDuration:   60 * time.Second,
		SampleInterval: 5 * time.Second,
		MinMeasure:     50 * time.Millisecond,

		BaselineWorkers: 4,
		BaselineTask:    2 * time.Second,
	}
}

// Func runs one gate.
type Func func(ctx context.Context, cfg Config) (Result, error)

type definition struct {
	criteria string
	run      Func
}

var registry = map[int]definition{
	0: {"4 workers x 2s of CPU work finish in under 3s of wall clock", Baseline},
	1: {"best delta-only compression ratio > 100x", Compression},
	2: {"influence from (0,0) reaches the opposite corner within 50 steps", WavePropagation},
	3: {"glider center of mass moves more than 2 cells", GliderEmergence},
	4: {"decay ratio within 0.45-0.55 after one half-life for a majority", Decay},
	5: {"full grid sustains more than 0.1 steps/s without panics", SustainedLoad},
}

// IDs lists the registered gates in order.
func IDs() []int {
	ids := make([]int, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func lookup(id int) (string, definition, error) {
	def, ok := registry[id]
	name, named := checkpoint.GateNames[id]

	if !ok || !named {
		return "", definition{}, errors.ErrUnknownGate.WithMessagef("no gate with id %d", id)
	}

	return name, def, nil
}

// Run executes gate id without any proof or checkpoint.
func Run(ctx context.Context, id int, cfg Config) (Result, error) {
	name, def, err := lookup(id)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	result, err := def.run(ctx, cfg)

	result.ID = id
	result.Name = name
	result.Criteria = def.criteria
	result.Duration = time.Since(start).Seconds()

	return result, err
}
