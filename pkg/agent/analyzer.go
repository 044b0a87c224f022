package agent

import (
	"math"
	"time"
)

const (
	PatternQuiescent    = "quiescent"
	PatternSynchronized = "synchronized_oscillation"
	PatternClustered    = "clustered_activation"
	PatternWave         = "wave_propagation"
	PatternEccentric    = "eccentric_movement"
)

/*
Analyzer measures collective behaviour over a fixed set of agents.
*/
type Analyzer struct {
	agents []*Floating
	byPos  map[Position]*Floating
}

// Report is the full analysis of one moment.
type Report struct {
	Timestamp    time.Time  `json:"timestamp"`
	AgentCount   int        `json:"agent_count"`
	Activation   float64    `json:"activation_rate"`
	CenterOfMass [2]float64 `json:"center_of_mass"`
	Complexity   float64    `json:"pattern_complexity"`
	Patterns     []string   `json:"emergent_patterns"`
	Agents       []Metrics  `json:"individual_metrics"`
}

func NewAnalyzer(agents []*Floating) *Analyzer {
	byPos := make(map[Position]*Floating, len(agents))

	for _, a := range agents {
		byPos[a.Position()] = a
	}

	return &Analyzer{agents: agents, byPos: byPos}
}

// CenterOfMass averages the positions of the active agents.
func (an *Analyzer) CenterOfMass() (row, col float64) {
	var n int

	for _, a := range an.agents {
		if !a.Active() {
			continue
		}
		row += float64(a.Row())
		col += float64(a.Col())
		n++
	}

	if n == 0 {
		return 0, 0
	}

	return row / float64(n), col / float64(n)
}

// ActivationRate is the fraction of agents currently active.
func (an *Analyzer) ActivationRate() float64 {
	if len(an.agents) == 0 {
		return 0
	}

	var active int
	for _, a := range an.agents {
		if a.Active() {
			active++
		}
	}

	return float64(active) / float64(len(an.agents))
}

/*
Complexity is the share of an active agent's possible neighbour links that
lead to another active agent.
*/
func (an *Analyzer) Complexity() float64 {
	var links, possible int

	for _, a := range an.agents {
		if !a.Active() {
			continue
		}

		neighbours := a.Neighbors()
		possible += len(neighbours)

		for _, p := range neighbours {
			if n, ok := an.byPos[p]; ok && n.Active() {
				links++
			}
		}
	}

	if possible == 0 {
		return 0
	}

	return float64(links) / float64(possible)
}

func (an *Analyzer) DetectPatterns() []string {
	var patterns []string

	rate := an.ActivationRate()

	switch {
	case rate < 0.05:
		patterns = append(patterns, PatternQuiescent)
	case rate > 0.8:
		patterns = append(patterns, PatternSynchronized)
	case an.Complexity() > 0.7:
		patterns = append(patterns, PatternClustered)
	default:
		patterns = append(patterns, PatternWave)
	}

	if len(an.agents) == 0 || rate == 0 {
		return patterns
	}

	center := float64(an.agents[0].Grid().Size() / 2)
	row, col := an.CenterOfMass()

	if math.Abs(row-center)+math.Abs(col-center) > center*0.3 {
		patterns = append(patterns, PatternEccentric)
	}

	return patterns
}

func (an *Analyzer) Report() Report {
	row, col := an.CenterOfMass()

	metrics := make([]Metrics, 0, len(an.agents))
	for _, a := range an.agents {
		metrics = append(metrics, a.Metrics())
	}

	return Report{
		Timestamp:    time.Now(),
		AgentCount:   len(an.agents),
		Activation:   an.ActivationRate(),
		CenterOfMass: [2]float64{row, col},
		Complexity:   an.Complexity(),
		Patterns:     an.DetectPatterns(),
		Agents:       metrics,
	}
}
