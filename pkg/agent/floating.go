package agent

import (
	"fmt"
	"math"

	"github.com/theapemachine/gridswarm/pkg/grid"
)

const (
	internalDecay  = 0.95
	activeLevel    = 0.1
	baseMemoryRate = 0.001
)

// Position is a row/column pair on the grid.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d)", p.Row, p.Col)
}

var vonNeumann = []Position{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

/*
Floating is an agent pinned to one cell. It perceives the shared field
through the grid's reconstruction and changes it only by injecting into Δ.
A Floating is not safe for concurrent use; the swarm manager serializes
access.
*/
type Floating struct {
	row       int
	col       int
	id        int
	grid      *grid.Grid
	threshold float64
	strength  float64

	internal        float64
	base            float64
	active          bool
	lastSeen        float64
	activationCount int
}

type Option func(*Floating)

// Metrics is a point-in-time view of one agent.
type Metrics struct {
	Position        Position `json:"position"`
	ID              int      `json:"agent_id"`
	Internal        float64  `json:"internal_state"`
	Base            float64  `json:"base_state"`
	Active          bool     `json:"is_active"`
	ActivationCount int      `json:"activation_count"`
	Neighbors       int      `json:"neighbors"`
	Threshold       float64  `json:"activation_threshold"`
	Strength        float64  `json:"propagation_strength"`
}

func New(row, col int, g *grid.Grid, options ...Option) (*Floating, error) {
	if g == nil {
		return nil, fmt.Errorf("agent at %d,%d needs a grid", row, col)
	}

	if !g.Contains(row, col) {
		return nil, fmt.Errorf(
			"invalid position (%d, %d) for grid size %dx%d",
			row, col, g.Size(), g.Size(),
		)
	}

	agent := &Floating{
		row:       row,
		col:       col,
		id:        g.Index(row, col),
		grid:      g,
		threshold: 0.1,
		strength:  0.5,
	}

	for _, option := range options {
		option(agent)
	}

	return agent, nil
}

func WithThreshold(threshold float64) Option {
	return func(a *Floating) {
		a.threshold = threshold
	}
}

func WithStrength(strength float64) Option {
	return func(a *Floating) {
		a.strength = strength
	}
}

/*
Sense reads the influence at the agent's cell. A change since the last read
feeds into the internal activation.
*/
func (a *Floating) Sense() float64 {
	influence := a.grid.Influence(a.row, a.col)

	if influence != a.lastSeen {
		a.lastSeen = influence
		a.absorb(influence)
	}

	return influence
}

func (a *Floating) absorb(influence float64) {
	a.internal = clamp(a.internal+influence*a.threshold, -1, 1)

	wasActive := a.active
	a.active = math.Abs(a.internal) > activeLevel

	if !wasActive && a.active {
		a.activationCount++
	}
}

// Update runs one step of perception, internal decay and propagation.
func (a *Floating) Update() {
	influence := a.Sense()

	a.internal *= internalDecay

	if math.Abs(influence) > a.threshold {
		a.Propagate()
	}

	a.base = (1-baseMemoryRate)*a.base + baseMemoryRate*influence
}

// Propagate injects the agent's strength into each Von Neumann neighbour.
func (a *Floating) Propagate() {
	for _, n := range a.Neighbors() {
		a.grid.FlipBit(a.grid.Index(n.Row, n.Col), a.strength)
	}
}

// Neighbors lists the in-bounds cells above, below, left and right.
func (a *Floating) Neighbors() []Position {
	out := make([]Position, 0, len(vonNeumann))

	for _, d := range vonNeumann {
		r, c := a.row+d.Row, a.col+d.Col
		if a.grid.Contains(r, c) {
			out = append(out, Position{Row: r, Col: c})
		}
	}

	return out
}

// Inject is an external stimulus at the agent's own cell.
func (a *Floating) Inject(strength float64) {
	a.grid.FlipBit(a.id, strength)
}

func (a *Floating) Reset() {
	a.internal = 0
	a.active = false
	a.activationCount = 0
	a.lastSeen = 0
}

func (a *Floating) Metrics() Metrics {
	return Metrics{
		Position:        a.Position(),
		ID:              a.id,
		Internal:        a.internal,
		Base:            a.base,
		Active:          a.active,
		ActivationCount: a.activationCount,
		Neighbors:       len(a.Neighbors()),
		Threshold:       a.threshold,
		Strength:        a.strength,
	}
}

// DistanceTo is the Manhattan distance between two agents.
func (a *Floating) DistanceTo(other *Floating) int {
	return abs(a.row-other.row) + abs(a.col-other.col)
}

func (a *Floating) Row() int              { return a.row }
func (a *Floating) Col() int              { return a.col }
func (a *Floating) ID() int               { return a.id }
func (a *Floating) Position() Position    { return Position{Row: a.row, Col: a.col} }
func (a *Floating) Grid() *grid.Grid      { return a.grid }
func (a *Floating) Active() bool          { return a.active }
func (a *Floating) SetActive(active bool) { a.active = active }
func (a *Floating) Internal() float64     { return a.internal }
func (a *Floating) Base() float64         { return a.base }
func (a *Floating) Threshold() float64    { return a.threshold }
func (a *Floating) Strength() float64     { return a.strength }
func (a *Floating) ActivationCount() int  { return a.activationCount }
func (a *Floating) MarkActivation()       { a.activationCount++ }
func (a *Floating) SetInternal(v float64) { a.internal = clamp(v, -1, 1) }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
