/*
Package grid holds the compressed influence field the floating agents live
on. The field is stored as a rank-r update Δ sandwiched between two fixed
projections, so the influence at cell i is A[i,:] · Δ · B[:,i].
*/
package grid

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

const (
	// features and bytes per cell used when sizing a full, uncompressed
	// broadcast of the grid state.
	fullFeatures  = 10
	bytesPerFloat = 8
)

/*
Grid is a size × size field of base values plus a low-rank influence term.
A and B never change after construction; Δ is the only evolving state.
*/
type Grid struct {
	mu sync.RWMutex

	size     int
	rank     int
	halfLife float64
	coeff    float64
	seed     int64

	base  []float32 // size*size, row major
	rows  [][]float32
	a     []float32 // cells × rank
	b     []float32 // rank × cells
	delta []float32 // rank × rank

	reconstruction []float32
	dirty          bool
}

type Option func(*Grid)

/*
CompressionStats compares the cost of broadcasting the full state against
the factored form.
*/
type CompressionStats struct {
	Rank            int     `json:"rank"`
	GridSize        int     `json:"grid_size"`
	FullBytes       int     `json:"full_bytes"`
	LoRABytes       int     `json:"lora_bytes"`
	DeltaBytes      int     `json:"delta_bytes"`
	Ratio           float64 `json:"compression_ratio"`
	DeltaOnlyRatio  float64 `json:"delta_only_ratio"`
	DeltaNorm       float64 `json:"delta_norm"`
	MemoryEfficient bool    `json:"memory_efficiency"`
}

/*
New seeds a grid. Defaults are a 12×12 field, rank 4, half-life 20 steps,
seed 42 and an all-zero base.
*/
func New(options ...Option) (*Grid, error) {
	g := &Grid{
		size:     12,
		rank:     4,
		halfLife: 20,
		seed:     42,
	}

	for _, option := range options {
		option(g)
	}

	if g.size <= 0 {
		return nil, fmt.Errorf("grid size must be positive, got %d", g.size)
	}

	if g.rank <= 0 {
		return nil, fmt.Errorf("grid rank must be positive, got %d", g.rank)
	}

	cells := g.size * g.size

	if err := g.flattenBase(); err != nil {
		return nil, err
	}

	g.coeff = coefficient(g.halfLife)

	rng := rand.New(rand.NewSource(g.seed))
	std := 1.0 / math.Sqrt(float64(g.rank))

	g.a = make([]float32, cells*g.rank)
	for i := range g.a {
		g.a[i] = float32(rng.NormFloat64() * std)
	}

	g.b = make([]float32, g.rank*cells)
	for i := range g.b {
		g.b[i] = float32(rng.NormFloat64() * std)
	}

	g.delta = make([]float32, g.rank*g.rank)
	g.reconstruction = make([]float32, cells)
	copy(g.reconstruction, g.base)

	return g, nil
}

func WithSize(size int) Option {
	return func(g *Grid) {
		g.size = size
	}
}

func WithRank(rank int) Option {
	return func(g *Grid) {
		g.rank = rank
	}
}

// WithHalfLife sets the number of steps after which Δ has halved.
// Zero or negative disables decay.
func WithHalfLife(steps float64) Option {
	return func(g *Grid) {
		g.halfLife = steps
	}
}

func WithSeed(seed int64) Option {
	return func(g *Grid) {
		g.seed = seed
	}
}

// WithBase sets the steady-state values the influence is added to.
// It must be size rows of size values each.
func WithBase(base [][]float32) Option {
	return func(g *Grid) {
		g.rows = base
	}
}

func (g *Grid) flattenBase() error {
	g.base = make([]float32, g.size*g.size)

	if g.rows == nil {
		return nil
	}

	if len(g.rows) != g.size {
		return fmt.Errorf("base state has %d rows, want %d", len(g.rows), g.size)
	}

	for i, row := range g.rows {
		if len(row) != g.size {
			return fmt.Errorf("base row %d has %d values, want %d", i, len(row), g.size)
		}
		copy(g.base[i*g.size:], row)
	}

	g.rows = nil

	return nil
}

func coefficient(halfLife float64) float64 {
	if halfLife <= 0 {
		return 1.0
	}
	return math.Pow(0.5, 1.0/halfLife)
}

func (g *Grid) Size() int { return g.size }

func (g *Grid) Rank() int { return g.rank }

// Cells is the number of positions, size².
func (g *Grid) Cells() int { return g.size * g.size }

func (g *Grid) HalfLife() float64 { return g.halfLife }

func (g *Grid) DecayCoefficient() float64 { return g.coeff }

// Index converts a row/column pair to the linear cell index.
func (g *Grid) Index(row, col int) int {
	return row*g.size + col
}

// Coords converts a linear cell index back to row and column.
func (g *Grid) Coords(index int) (row, col int) {
	return index / g.size, index % g.size
}

func (g *Grid) Contains(row, col int) bool {
	return row >= 0 && row < g.size && col >= 0 && col < g.size
}

/*
FlipBit injects influence at a cell by adding strength · outer(A[i], A[i])
to Δ. Indices outside the grid are ignored and reported as false.
*/
func (g *Grid) FlipBit(index int, strength float64) bool {
	if index < 0 || index >= g.Cells() {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	row := g.a[index*g.rank : (index+1)*g.rank]

	for p := 0; p < g.rank; p++ {
		for q := 0; q < g.rank; q++ {
			g.delta[p*g.rank+q] += float32(strength * float64(row[p]) * float64(row[q]))
		}
	}

	g.dirty = true
	return true
}

// Inject is FlipBit addressed by row and column.
func (g *Grid) Inject(row, col int, strength float64) bool {
	if !g.Contains(row, col) {
		return false
	}
	return g.FlipBit(g.Index(row, col), strength)
}

// DecayStep multiplies Δ by the configured per-step coefficient.
func (g *Grid) DecayStep() {
	g.scale(g.coeff)
}

/*
DecayWithHalfLife decays for one step using a different half-life. A
non-positive override falls back to the configured coefficient.
*/
func (g *Grid) DecayWithHalfLife(halfLife float64) {
	if halfLife <= 0 {
		g.scale(g.coeff)
		return
	}
	g.scale(coefficient(halfLife))
}

func (g *Grid) scale(coeff float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.delta {
		g.delta[i] = float32(float64(g.delta[i]) * coeff)
	}

	g.dirty = true
}

/*
Influence returns the reconstructed influence at a cell, without the base
value. Positions outside the grid read as zero.
*/
func (g *Grid) Influence(row, col int) float64 {
	if !g.Contains(row, col) {
		return 0
	}

	g.ensure()

	g.mu.RLock()
	defer g.mu.RUnlock()

	i := g.Index(row, col)
	return float64(g.reconstruction[i] - g.base[i])
}

// State returns a copy of base + influence for every cell.
func (g *Grid) State() [][]float32 {
	g.ensure()

	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([][]float32, g.size)
	for r := 0; r < g.size; r++ {
		out[r] = make([]float32, g.size)
		copy(out[r], g.reconstruction[r*g.size:(r+1)*g.size])
	}

	return out
}

// Delta returns a copy of the rank × rank influence matrix.
func (g *Grid) Delta() [][]float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([][]float32, g.rank)
	for p := 0; p < g.rank; p++ {
		out[p] = make([]float32, g.rank)
		copy(out[p], g.delta[p*g.rank:(p+1)*g.rank])
	}

	return out
}

// DeltaNorm is the Frobenius norm of Δ.
func (g *Grid) DeltaNorm() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var sum float64
	for _, v := range g.delta {
		sum += float64(v) * float64(v)
	}

	return math.Sqrt(sum)
}

// Dirty reports whether the cached reconstruction is stale.
func (g *Grid) Dirty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dirty
}

// Reset clears all injected influence.
func (g *Grid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.delta {
		g.delta[i] = 0
	}

	g.dirty = true
}

// FillDelta sets every entry of Δ to value.
func (g *Grid) FillDelta(value float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.delta {
		g.delta[i] = value
	}

	g.dirty = true
}

func (g *Grid) CompressionStats() CompressionStats {
	cells := g.Cells()
	full := cells * fullFeatures * bytesPerFloat
	lora := cells*g.rank*bytesPerFloat*2 + g.rank*g.rank*bytesPerFloat
	deltaOnly := g.rank * g.rank * bytesPerFloat

	stats := CompressionStats{
		Rank:       g.rank,
		GridSize:   cells,
		FullBytes:  full,
		LoRABytes:  lora,
		DeltaBytes: deltaOnly,
		DeltaNorm:  g.DeltaNorm(),
	}

	if lora > 0 {
		stats.Ratio = float64(full) / float64(lora)
	} else {
		stats.Ratio = math.Inf(1)
	}

	if deltaOnly > 0 {
		stats.DeltaOnlyRatio = float64(full) / float64(deltaOnly)
	}

	stats.MemoryEfficient = stats.Ratio > 1.0
	return stats
}

/*
ensure rebuilds the whole reconstruction when Δ changed since the last
read. Every cell is recomputed from scratch.
*/
func (g *Grid) ensure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.dirty {
		return
	}

	cells := g.Cells()
	tmp := make([]float64, g.rank)

	for i := 0; i < cells; i++ {
		// tmp = A[i,:] · Δ
		for q := 0; q < g.rank; q++ {
			var acc float64
			for p := 0; p < g.rank; p++ {
				acc += float64(g.a[i*g.rank+p]) * float64(g.delta[p*g.rank+q])
			}
			tmp[q] = acc
		}

		// influence = tmp · B[:,i]
		var influence float64
		for q := 0; q < g.rank; q++ {
			influence += tmp[q] * float64(g.b[q*cells+i])
		}

		g.reconstruction[i] = g.base[i] + float32(influence)
	}

	g.dirty = false
}
