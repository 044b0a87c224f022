/*
Package rules applies Game of Life style survival and birth rules to
floating agents. A cell is "alive" when the influence it reads exceeds the
agent's threshold, and every rule outcome is written back into the grid as
an injection rather than a direct state flip.
*/
package rules

import (
	"math"

	"github.com/theapemachine/gridswarm/pkg/agent"
	"github.com/theapemachine/gridswarm/pkg/grid"
)

// Params holds the neighbour counts that drive survival and birth.
type Params struct {
	SurvivalMin    int `json:"survival_min" mapstructure:"survival_min"`
	SurvivalMax    int `json:"survival_max" mapstructure:"survival_max"`
	BirthCount     int `json:"birth_count" mapstructure:"birth_count"`
	Overpopulation int `json:"overpopulation" mapstructure:"overpopulation"`
}

// DefaultParams are the classic B3/S23 counts.
func DefaultParams() Params {
	return Params{
		SurvivalMin:    2,
		SurvivalMax:    3,
		BirthCount:     3,
		Overpopulation: 4,
	}
}

type Conway struct {
	params Params
}

func NewConway(params Params) *Conway {
	return &Conway{params: params}
}

func (c *Conway) Params() Params {
	return c.params
}

/*
UpdateCell evaluates one agent. Birth injects the agent's strength at its
own cell, death injects minus half of it, survival leaves the field to
decay and propagation.
*/
func (c *Conway) UpdateCell(a *agent.Floating, g *grid.Grid) {
	neighbours := c.CountActiveNeighbors(a, g)

	a.Sense()
	current := alive(a, g, a.Row(), a.Col())
	next := c.NextState(current, neighbours)

	switch {
	case next && !current:
		a.Inject(a.Strength())
	case !next && current:
		a.Inject(-a.Strength() * 0.5)
	}

	a.SetActive(next)

	if next && !current {
		a.MarkActivation()
	}
}

func (c *Conway) NextState(active bool, neighbours int) bool {
	if active {
		return neighbours >= c.params.SurvivalMin && neighbours <= c.params.SurvivalMax
	}
	return neighbours == c.params.BirthCount
}

// CountActiveNeighbors counts Von Neumann neighbours reading above threshold.
func (c *Conway) CountActiveNeighbors(a *agent.Floating, g *grid.Grid) int {
	var count int

	for _, n := range a.Neighbors() {
		if alive(a, g, n.Row, n.Col) {
			count++
		}
	}

	return count
}

// NeighborInfluence sums the influence of the neighbours that are alive.
func (c *Conway) NeighborInfluence(a *agent.Floating, g *grid.Grid) float64 {
	var total float64

	for _, n := range a.Neighbors() {
		if influence := g.Influence(n.Row, n.Col); math.Abs(influence) > a.Threshold() {
			total += influence
		}
	}

	return total
}

func alive(a *agent.Floating, g *grid.Grid, row, col int) bool {
	return math.Abs(g.Influence(row, col)) > a.Threshold()
}
