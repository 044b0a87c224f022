package swarm

import (
	"github.com/cohesivestack/valgo"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/rules"
)

const (
	LayoutFull      = "full"
	LayoutScattered = "scattered"
	LayoutGrid      = "grid"
)

// Config describes one simulated swarm.
type Config struct {
	GridSize  int          `json:"grid_size" mapstructure:"size"`
	Rank      int          `json:"rank" mapstructure:"rank"`
	HalfLife  float64      `json:"decay_half_life" mapstructure:"half_life"`
	Seed      int64        `json:"seed" mapstructure:"seed"`
	Threshold float64      `json:"activation_threshold" mapstructure:"threshold"`
	Strength  float64      `json:"propagation_strength" mapstructure:"strength"`
	Density   float64      `json:"scattered_density" mapstructure:"density"`
	Stride    int          `json:"grid_stride" mapstructure:"stride"`
	Rules     rules.Params `json:"conway_rules" mapstructure:"rules"`
}

func DefaultConfig() Config {
	return Config{
		GridSize:  12,
		Rank:      4,
		HalfLife:  20,
		Seed:      42,
		Threshold: 0.1,
		Strength:  0.5,
		Density:   0.8,
		Stride:    2,
		Rules:     rules.DefaultParams(),
	}
}

/*
Validate checks the configuration before any grid is allocated. Rank is
limited to 2..8, the range where the factored form still compresses.
*/
func (cfg Config) Validate() error {
	v := valgo.Is(valgo.Int(cfg.GridSize, "grid_size").GreaterThan(0)).
		Is(valgo.Int(cfg.Rank, "rank").Between(2, 8)).
		Is(valgo.Float64(cfg.HalfLife, "decay_half_life").GreaterThan(0)).
		Is(valgo.Float64(cfg.Threshold, "activation_threshold").GreaterOrEqualTo(0)).
		Is(valgo.Float64(cfg.Density, "scattered_density").Between(0, 1)).
		Is(valgo.Int(cfg.Stride, "grid_stride").GreaterThan(0))

	if !v.Valid() {
		return errors.ErrInvalidConfig.WithMessagef(
			"invalid swarm configuration: %v", v.Error(),
		)
	}

	return nil
}
