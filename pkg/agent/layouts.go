package agent

import (
	"fmt"
	"math/rand"

	"github.com/theapemachine/gridswarm/pkg/grid"
)

// Full places one agent on every cell, row major.
func Full(g *grid.Grid, options ...Option) ([]*Floating, error) {
	return Strided(g, 1, options...)
}

// Strided places agents on every stride-th row and column.
func Strided(g *grid.Grid, stride int, options ...Option) ([]*Floating, error) {
	if stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", stride)
	}

	agents := make([]*Floating, 0, (g.Size()/stride+1)*(g.Size()/stride+1))

	for row := 0; row < g.Size(); row += stride {
		for col := 0; col < g.Size(); col += stride {
			a, err := New(row, col, g, options...)
			if err != nil {
				return nil, err
			}
			agents = append(agents, a)
		}
	}

	return agents, nil
}

/*
Scattered occupies int(cells·density) distinct random cells. The result
is ordered by cell index so runs with the same rng are reproducible.
*/
func Scattered(g *grid.Grid, density float64, rng *rand.Rand, options ...Option) ([]*Floating, error) {
	if density < 0 || density > 1 {
		return nil, fmt.Errorf("density must be within [0, 1], got %g", density)
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(42))
	}

	count := int(float64(g.Cells()) * density)
	picked := rng.Perm(g.Cells())[:count]
	occupied := make([]bool, g.Cells())

	for _, idx := range picked {
		occupied[idx] = true
	}

	agents := make([]*Floating, 0, count)

	for idx, ok := range occupied {
		if !ok {
			continue
		}

		row, col := g.Coords(idx)

		a, err := New(row, col, g, options...)
		if err != nil {
			return nil, err
		}

		agents = append(agents, a)
	}

	return agents, nil
}

// GliderSeed places five agents in a glider shape around the grid center.
func GliderSeed(g *grid.Grid, options ...Option) ([]*Floating, error) {
	offsets := []Position{{1, 0}, {2, 1}, {0, 2}, {1, 2}, {2, 2}}
	center := g.Size() / 2
	agents := make([]*Floating, 0, len(offsets))

	for _, o := range offsets {
		a, err := New(center+o.Row-1, center+o.Col-1, g, options...)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	return agents, nil
}
