package rules

import (
	"math"
	"time"

	"github.com/theapemachine/gridswarm/pkg/agent"
)

const (
	EvolutionTraveling    = "traveling_pattern"
	EvolutionStable       = "stable_configuration"
	EvolutionChaotic      = "chaotic_evolution"
	EvolutionDissipating  = "dissipating_pattern"
	EvolutionInsufficient = "insufficient_data"

	maxSnapshots    = 1000
	stabilityWindow = 5
	emergenceJump   = 3
)

// Snapshot is the activation picture at one step.
type Snapshot struct {
	Timestamp  time.Time        `json:"timestamp"`
	Active     int              `json:"active_agents"`
	Positions  []agent.Position `json:"activation_pattern"`
	Clusters   [][2]float64     `json:"cluster_centers"`
	Density    float64          `json:"pattern_density"`
	Dispersion float64          `json:"spatial_dispersion"`
}

// Evolution summarizes how the activation picture changed over time.
type Evolution struct {
	Type            string     `json:"evolution_type"`
	Movement        [2]float64 `json:"movement_vector"`
	Stability       float64    `json:"pattern_stability"`
	EmergenceEvents int        `json:"emergence_events"`
	Dissipation     float64    `json:"dissipation_rate"`
}

/*
PatternAnalyzer keeps a bounded history of snapshots over one set of
agents and classifies how the activity evolves.
*/
type PatternAnalyzer struct {
	agents  []*agent.Floating
	byPos   map[agent.Position]*agent.Floating
	history []Snapshot
}

func NewPatternAnalyzer(agents []*agent.Floating) *PatternAnalyzer {
	byPos := make(map[agent.Position]*agent.Floating, len(agents))
	for _, a := range agents {
		byPos[a.Position()] = a
	}

	return &PatternAnalyzer{agents: agents, byPos: byPos}
}

func (pa *PatternAnalyzer) Snapshot() Snapshot {
	var positions []agent.Position

	for _, a := range pa.agents {
		if a.Active() {
			positions = append(positions, a.Position())
		}
	}

	snap := Snapshot{
		Timestamp:  time.Now(),
		Active:     len(positions),
		Positions:  positions,
		Clusters:   pa.clusterCenters(),
		Dispersion: dispersion(positions),
	}

	if len(pa.agents) > 0 {
		snap.Density = float64(len(positions)) / float64(len(pa.agents))
	}

	pa.history = append(pa.history, snap)
	if len(pa.history) > maxSnapshots {
		pa.history = pa.history[len(pa.history)-maxSnapshots:]
	}

	return snap
}

func (pa *PatternAnalyzer) Evolution() Evolution {
	if len(pa.history) < 2 {
		return Evolution{Type: EvolutionInsufficient}
	}

	evo := Evolution{
		Movement:        pa.movement(),
		Stability:       pa.stability(),
		EmergenceEvents: pa.emergenceEvents(),
		Dissipation:     pa.dissipation(),
	}

	switch {
	case math.Hypot(evo.Movement[0], evo.Movement[1]) > 0.5:
		evo.Type = EvolutionTraveling
	case evo.Stability > 0.8:
		evo.Type = EvolutionStable
	case evo.EmergenceEvents > 0:
		evo.Type = EvolutionChaotic
	default:
		evo.Type = EvolutionDissipating
	}

	return evo
}

func (pa *PatternAnalyzer) History() []Snapshot {
	out := make([]Snapshot, len(pa.history))
	copy(out, pa.history)
	return out
}

func (pa *PatternAnalyzer) Clear() {
	pa.history = nil
}

/*
clusterCenters finds connected components of active agents and returns
the centers of those with more than two members.
*/
func (pa *PatternAnalyzer) clusterCenters() [][2]float64 {
	visited := make(map[agent.Position]bool)
	var centers [][2]float64

	for _, a := range pa.agents {
		if !a.Active() || visited[a.Position()] {
			continue
		}

		component := pa.component(a, visited)
		if len(component) <= 2 {
			continue
		}

		row, col := centerOf(component)
		centers = append(centers, [2]float64{row, col})
	}

	return centers
}

func (pa *PatternAnalyzer) component(start *agent.Floating, visited map[agent.Position]bool) []agent.Position {
	var out []agent.Position
	queue := []*agent.Floating{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current.Position()] {
			continue
		}

		visited[current.Position()] = true
		out = append(out, current.Position())

		for _, p := range current.Neighbors() {
			if n, ok := pa.byPos[p]; ok && n.Active() && !visited[p] {
				queue = append(queue, n)
			}
		}
	}

	return out
}

func (pa *PatternAnalyzer) movement() [2]float64 {
	prev := pa.history[len(pa.history)-2].Positions
	last := pa.history[len(pa.history)-1].Positions

	if len(prev) == 0 || len(last) == 0 {
		return [2]float64{}
	}

	r1, c1 := centerOf(prev)
	r2, c2 := centerOf(last)

	return [2]float64{r2 - r1, c2 - c1}
}

/*
stability is the mean Jaccard similarity of consecutive active sets over
the most recent snapshots. Two empty sets count as identical.
*/
func (pa *PatternAnalyzer) stability() float64 {
	if len(pa.history) < 3 {
		return 0.5
	}

	window := pa.history
	if len(window) > stabilityWindow {
		window = window[len(window)-stabilityWindow:]
	}

	var sum float64
	for i := 1; i < len(window); i++ {
		sum += jaccard(window[i-1].Positions, window[i].Positions)
	}

	return sum / float64(len(window)-1)
}

// emergenceEvents counts sudden rises in the number of active agents.
func (pa *PatternAnalyzer) emergenceEvents() int {
	var events int

	for i := 1; i < len(pa.history); i++ {
		if pa.history[i].Active-pa.history[i-1].Active >= emergenceJump {
			events++
		}
	}

	return events
}

func (pa *PatternAnalyzer) dissipation() float64 {
	if len(pa.agents) == 0 {
		return 0
	}

	window := pa.history
	if len(window) > stabilityWindow {
		window = window[len(window)-stabilityWindow:]
	}

	trend := window[len(window)-1].Active - window[0].Active
	return -float64(trend) / float64(len(pa.agents))
}

func jaccard(a, b []agent.Position) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	set := make(map[agent.Position]bool, len(a))
	for _, p := range a {
		set[p] = true
	}

	var inter int
	union := len(a)

	for _, p := range b {
		if set[p] {
			inter++
		} else {
			union++
		}
	}

	return float64(inter) / float64(union)
}

func centerOf(positions []agent.Position) (row, col float64) {
	if len(positions) == 0 {
		return 0, 0
	}

	for _, p := range positions {
		row += float64(p.Row)
		col += float64(p.Col)
	}

	n := float64(len(positions))
	return row / n, col / n
}

func dispersion(positions []agent.Position) float64 {
	if len(positions) <= 1 {
		return 0
	}

	row, col := centerOf(positions)

	var total float64
	for _, p := range positions {
		total += math.Abs(float64(p.Row)-row) + math.Abs(float64(p.Col)-col)
	}

	return total / float64(len(positions))
}
