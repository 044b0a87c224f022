package rules

import (
	"sort"

	"github.com/theapemachine/gridswarm/pkg/agent"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

/*
Library maps pattern names to cell offsets relative to the pattern's
top-left corner.
*/
var Library = map[string][]agent.Position{
	"glider":  {{Row: 0, Col: 2}, {Row: 1, Col: 0}, {Row: 1, Col: 2}, {Row: 2, Col: 1}, {Row: 2, Col: 2}},
	"blinker": {{Row: 0, Col: 1}, {Row: 1, Col: 1}, {Row: 2, Col: 1}},
	"beacon":  {{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 2, Col: 3}, {Row: 3, Col: 2}, {Row: 3, Col: 3}},
	"toad":    {{Row: 0, Col: 1}, {Row: 0, Col: 2}, {Row: 0, Col: 3}, {Row: 1, Col: 0}, {Row: 1, Col: 1}, {Row: 1, Col: 2}},
	"block":   {{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 1, Col: 1}},
}

// Pattern returns a copy of the named offsets.
func Pattern(name string) ([]agent.Position, error) {
	offsets, ok := Library[name]
	if !ok {
		return nil, errors.ErrUnknownPattern.WithMessagef("unknown pattern %q", name)
	}

	out := make([]agent.Position, len(offsets))
	copy(out, offsets)

	return out, nil
}

// PatternNames lists the library in a stable order.
func PatternNames() []string {
	names := make([]string, 0, len(Library))
	for name := range Library {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Glider is one exact glider match on the activation grid.
type Glider struct {
	Position   agent.Position `json:"position"`
	Type       string         `json:"type"`
	Agents     []int          `json:"agents_involved"`
	Confidence float64        `json:"confidence"`
}

var gliderShape = [3][3]bool{
	{false, false, true},
	{true, false, true},
	{false, true, false},
}

// DetectGliders scans every 3x3 window for the canonical glider phase.
func DetectGliders(agents []*agent.Floating, size int) []Glider {
	activation := make([][]bool, size)
	for i := range activation {
		activation[i] = make([]bool, size)
	}

	for _, a := range agents {
		if a.Active() && a.Row() < size && a.Col() < size {
			activation[a.Row()][a.Col()] = true
		}
	}

	var found []Glider

	for row := 0; row+2 < size; row++ {
		for col := 0; col+2 < size; col++ {
			if !matchesGlider(activation, row, col) {
				continue
			}

			found = append(found, Glider{
				Position:   agent.Position{Row: row, Col: col},
				Type:       "glider_seed",
				Agents:     agentsIn(agents, row, col, 3, 3),
				Confidence: 1.0,
			})
		}
	}

	return found
}

func matchesGlider(activation [][]bool, row, col int) bool {
	for dr := 0; dr < 3; dr++ {
		for dc := 0; dc < 3; dc++ {
			if activation[row+dr][col+dc] != gliderShape[dr][dc] {
				return false
			}
		}
	}
	return true
}

func agentsIn(agents []*agent.Floating, row, col, height, width int) []int {
	var ids []int

	for _, a := range agents {
		if a.Row() >= row && a.Row() < row+height && a.Col() >= col && a.Col() < col+width {
			ids = append(ids, a.ID())
		}
	}

	return ids
}
