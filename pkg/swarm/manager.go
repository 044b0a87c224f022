/*
Package swarm orchestrates a grid, its floating agents and the Conway rules
into a steppable simulation, and records what happens along the way.
*/
package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/agent"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/grid"
	"github.com/theapemachine/gridswarm/pkg/metrics"
	"github.com/theapemachine/gridswarm/pkg/rules"
)

const (
	maxHistory     = 1000
	realtimeDelay  = 100 * time.Millisecond
	defaultRunTime = 60 * time.Second
	progressEvery  = 100
	shutdownWait   = 5 * time.Second
)

/*
Manager owns one simulated swarm. All methods are safe for concurrent use,
so a Run can be driven from one goroutine while an HTTP handler or a
terminal view reads Metrics and View from another.
*/
type Manager struct {
	mu sync.RWMutex

	cfg       Config
	grid      *grid.Grid
	agents    []*agent.Floating
	conway    *rules.Conway
	patterns  *rules.PatternAnalyzer
	behaviour *agent.Analyzer

	spawned   bool
	running   bool
	stepCount int
	startTime time.Time
	history   []StepMetrics

	cancel context.CancelFunc
	done   chan struct{}
}

type AgentCounts struct {
	Total          int     `json:"total"`
	Active         int     `json:"active"`
	ActivationRate float64 `json:"activation_rate"`
}

type PatternMetrics struct {
	Active     int     `json:"active_agents"`
	Density    float64 `json:"pattern_density"`
	Dispersion float64 `json:"spatial_dispersion"`
	Clusters   int     `json:"cluster_centers"`
}

// StepMetrics is recorded after every step.
type StepMetrics struct {
	Timestamp      time.Time             `json:"timestamp"`
	Step           int                   `json:"step_number"`
	Elapsed        float64               `json:"elapsed_seconds"`
	StepsPerSecond float64               `json:"steps_per_second"`
	Agents         AgentCounts           `json:"agent_counts"`
	Pattern        PatternMetrics        `json:"pattern_metrics"`
	Compression    grid.CompressionStats `json:"compression"`
	DeltaNorm      float64               `json:"delta_norm"`
	CacheValid     bool                  `json:"reconstruction_cache_valid"`
	Rules          rules.Params          `json:"conway_rules"`
	Running        bool                  `json:"running"`
	Goroutines     int                   `json:"goroutines"`
}

// RunOptions bound a simulation run. Zero values mean "no limit", except
// that a run with neither a duration nor a step limit lasts sixty seconds.
type RunOptions struct {
	Duration time.Duration
	MaxSteps int
	Realtime bool
}

type RunConfig struct {
	DurationTarget float64 `json:"duration_target"`
	DurationActual float64 `json:"duration_actual"`
	StepsCompleted int     `json:"steps_completed"`
	GridSize       int     `json:"grid_size"`
	AgentCount     int     `json:"agent_count"`
	Rank           int     `json:"rank"`
}

type Performance struct {
	StepsPerSecond    float64 `json:"steps_per_second"`
	PeakActivation    float64 `json:"peak_activation_rate"`
	AverageActivation float64 `json:"average_activation_rate"`
	CompressionRatio  float64 `json:"compression_ratio"`
}

type SuccessIndicators struct {
	Converged        bool `json:"swarm_converged"`
	EmergentPatterns bool `json:"emergent_patterns"`
	StableBehavior   bool `json:"stable_behavior"`
}

// Summary describes a finished run.
type Summary struct {
	Config      RunConfig         `json:"simulation_config"`
	Performance Performance       `json:"performance"`
	Final       StepMetrics       `json:"final_state"`
	Evolution   rules.Evolution   `json:"evolution_analysis"`
	Gliders     int               `json:"glider_patterns_detected"`
	Success     SuccessIndicators `json:"success_indicators"`
}

// View is a read-only picture of the grid for renderers.
type View struct {
	Size   int         `json:"size"`
	Step   int         `json:"step"`
	State  [][]float32 `json:"state"`
	Active [][]bool    `json:"active"`
}

func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Manager{cfg: cfg}, nil
}

func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

/*
Spawn builds a fresh grid and places agents on it according to layout:
"full" fills every cell, "scattered" fills a random share of cells and
"grid" takes every stride-th row and column.
*/
func (m *Manager) Spawn(layout string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := grid.New(
		grid.WithSize(m.cfg.GridSize),
		grid.WithRank(m.cfg.Rank),
		grid.WithHalfLife(m.cfg.HalfLife),
		grid.WithSeed(m.cfg.Seed),
	)
	if err != nil {
		return 0, fmt.Errorf("spawn grid: %w", err)
	}

	options := []agent.Option{
		agent.WithThreshold(m.cfg.Threshold),
		agent.WithStrength(m.cfg.Strength),
	}

	var agents []*agent.Floating

	switch layout {
	case LayoutFull, "":
		agents, err = agent.Full(g, options...)
	case LayoutScattered:
		agents, err = agent.Scattered(g, m.cfg.Density, rand.New(rand.NewSource(m.cfg.Seed)), options...)
	case LayoutGrid:
		agents, err = agent.Strided(g, m.cfg.Stride, options...)
	default:
		return 0, errors.ErrUnknownLayout.WithMessagef("unknown agent layout %q", layout)
	}

	if err != nil {
		return 0, fmt.Errorf("spawn agents: %w", err)
	}

	m.grid = g
	m.agents = agents
	m.conway = rules.NewConway(m.cfg.Rules)
	m.patterns = rules.NewPatternAnalyzer(agents)
	m.behaviour = agent.NewAnalyzer(agents)
	m.spawned = true
	m.stepCount = 0
	m.history = nil

	log.Info(
		"swarm spawned",
		"agents", len(agents),
		"size", g.Size(),
		"layout", layout,
		"compression", fmt.Sprintf("%.1fx", g.CompressionStats().Ratio),
	)

	return len(agents), nil
}

/*
InjectPattern writes a named pattern into the field with the given
strength. A nil position centers the pattern, offset by two rows and one
column. Cells that fall outside the grid are skipped.
*/
func (m *Manager) InjectPattern(name string, at *agent.Position, strength float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.spawned {
		return errors.ErrNotSpawned
	}

	offsets, err := rules.Pattern(name)
	if err != nil {
		return err
	}

	origin := agent.Position{Row: m.grid.Size()/2 - 2, Col: m.grid.Size()/2 - 1}
	if at != nil {
		origin = *at
	}

	var injected int

	for _, o := range offsets {
		if m.grid.Inject(origin.Row+o.Row, origin.Col+o.Col, strength) {
			injected++
		}
	}

	log.Debug("pattern injected", "pattern", name, "at", origin, "cells", injected)
	return nil
}

/*
Step runs one simulation tick: every agent updates, then the rules are
applied to every agent, then the field decays.
*/
func (m *Manager) Step() (StepMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.spawned {
		return StepMetrics{}, errors.ErrNotSpawned
	}

	for _, a := range m.agents {
		a.Update()
	}

	for _, a := range m.agents {
		m.conway.UpdateCell(a, m.grid)
	}

	m.grid.DecayStep()

	snap := m.patterns.Snapshot()
	step := m.collect(&snap)

	m.history = append(m.history, step)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}

	m.stepCount++
	metrics.ObserveStep(step.Agents.ActivationRate, step.DeltaNorm)

	return step, nil
}

// collect assembles metrics for the current state. Callers hold the lock.
func (m *Manager) collect(snap *rules.Snapshot) StepMetrics {
	now := time.Now()

	var active int
	for _, a := range m.agents {
		if a.Active() {
			active++
		}
	}

	step := StepMetrics{
		Timestamp:  now,
		Step:       m.stepCount,
		Rules:      m.cfg.Rules,
		Running:    m.running,
		Goroutines: runtime.NumGoroutine(),
		Agents: AgentCounts{
			Total:  len(m.agents),
			Active: active,
		},
	}

	if len(m.agents) > 0 {
		step.Agents.ActivationRate = float64(active) / float64(len(m.agents))
	}

	if !m.startTime.IsZero() {
		step.Elapsed = now.Sub(m.startTime).Seconds()
		if step.Elapsed > 0 {
			step.StepsPerSecond = float64(m.stepCount) / step.Elapsed
		}
	}

	step.Pattern = PatternMetrics{
		Active:  active,
		Density: step.Agents.ActivationRate,
	}

	if snap != nil {
		step.Pattern = PatternMetrics{
			Active:     snap.Active,
			Density:    snap.Density,
			Dispersion: snap.Dispersion,
			Clusters:   len(snap.Clusters),
		}
	}

	if m.grid != nil {
		step.Compression = m.grid.CompressionStats()
		step.DeltaNorm = step.Compression.DeltaNorm
		step.CacheValid = !m.grid.Dirty()
	}

	return step
}

/*
Run resets the agents and steps until the duration or step limit is
reached or ctx is cancelled. Shutdown also ends a run in progress.
*/
func (m *Manager) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	m.mu.Lock()

	if !m.spawned {
		m.mu.Unlock()
		return Summary{}, errors.ErrNotSpawned
	}

	if m.running {
		m.mu.Unlock()
		return Summary{}, fmt.Errorf("swarm is already running")
	}

	if opts.Duration <= 0 && opts.MaxSteps <= 0 {
		opts.Duration = defaultRunTime
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.startTime = time.Now()
	m.stepCount = 0

	for _, a := range m.agents {
		a.Reset()
	}

	done := m.done
	m.mu.Unlock()

	log.Info("simulation started", "duration", opts.Duration, "max_steps", opts.MaxSteps)

	start := time.Now()
	completed, err := m.loop(ctx, opts, start)

	m.mu.Lock()
	m.running = false
	m.cancel = nil
	close(done)
	m.mu.Unlock()

	if err != nil {
		return Summary{}, err
	}

	summary := m.summarize(opts, time.Since(start), completed)

	log.Info(
		"simulation finished",
		"steps", completed,
		"steps_per_second", fmt.Sprintf("%.1f", summary.Performance.StepsPerSecond),
		"activation", fmt.Sprintf("%.1f%%", summary.Final.Agents.ActivationRate*100),
	)

	return summary, nil
}

func (m *Manager) loop(ctx context.Context, opts RunOptions, start time.Time) (int, error) {
	var completed int

	for {
		if ctx.Err() != nil {
			return completed, nil
		}

		if opts.Duration > 0 && time.Since(start) >= opts.Duration {
			return completed, nil
		}

		if opts.MaxSteps > 0 && completed >= opts.MaxSteps {
			return completed, nil
		}

		step, err := m.Step()
		if err != nil {
			return completed, err
		}

		completed++

		if completed%progressEvery == 0 {
			log.Debug(
				"simulation progress",
				"steps", completed,
				"rate", fmt.Sprintf("%.1f", float64(completed)/time.Since(start).Seconds()),
				"active", fmt.Sprintf("%.1f%%", step.Agents.ActivationRate*100),
			)
		}

		if opts.Realtime {
			select {
			case <-ctx.Done():
				return completed, nil
			case <-time.After(realtimeDelay):
			}
		}
	}
}

func (m *Manager) summarize(opts RunOptions, elapsed time.Duration, completed int) Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	final := m.collect(nil)
	evolution := m.patterns.Evolution()

	summary := Summary{
		Config: RunConfig{
			DurationTarget: opts.Duration.Seconds(),
			DurationActual: elapsed.Seconds(),
			StepsCompleted: completed,
			GridSize:       m.grid.Size(),
			AgentCount:     len(m.agents),
			Rank:           m.grid.Rank(),
		},
		Final:     final,
		Evolution: evolution,
		Gliders:   len(rules.DetectGliders(m.agents, m.grid.Size())),
	}

	if elapsed > 0 {
		summary.Performance.StepsPerSecond = float64(completed) / elapsed.Seconds()
	}

	summary.Performance.CompressionRatio = final.Compression.Ratio

	if len(m.history) > 0 {
		var total float64

		for _, h := range m.history {
			rate := h.Agents.ActivationRate
			total += rate

			if rate > summary.Performance.PeakActivation {
				summary.Performance.PeakActivation = rate
			}
		}

		summary.Performance.AverageActivation = total / float64(len(m.history))
	}

	summary.Success = SuccessIndicators{
		Converged: final.Agents.ActivationRate < 0.05,
		EmergentPatterns: evolution.Type == rules.EvolutionTraveling ||
			evolution.Type == rules.EvolutionChaotic,
		StableBehavior: final.DeltaNorm < 1.0,
	}

	return summary
}

// Metrics reports the current state without advancing or recording it.
func (m *Manager) Metrics() (StepMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.spawned {
		return StepMetrics{}, errors.ErrNotSpawned
	}

	return m.collect(nil), nil
}

// History returns a copy of the recorded step metrics, oldest first.
func (m *Manager) History() []StepMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]StepMetrics, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Manager) CompressionStats() (grid.CompressionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.spawned {
		return grid.CompressionStats{}, errors.ErrNotSpawned
	}

	return m.grid.CompressionStats(), nil
}

// Evolution classifies the recorded snapshots.
func (m *Manager) Evolution() rules.Evolution {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.spawned {
		return rules.Evolution{Type: rules.EvolutionInsufficient}
	}

	return m.patterns.Evolution()
}

// Behaviour runs the collective behaviour analysis on the current state.
func (m *Manager) Behaviour() (agent.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.spawned {
		return agent.Report{}, errors.ErrNotSpawned
	}

	return m.behaviour.Report(), nil
}

// Gliders scans the current activation picture for gliders.
func (m *Manager) Gliders() []rules.Glider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.spawned {
		return nil
	}

	return rules.DetectGliders(m.agents, m.grid.Size())
}

// Reset clears the field, every agent and the recorded history.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.grid != nil {
		m.grid.Reset()
	}

	for _, a := range m.agents {
		a.Reset()
	}

	if m.patterns != nil {
		m.patterns.Clear()
	}

	m.stepCount = 0
	m.startTime = time.Time{}
	m.history = nil

	log.Debug("swarm reset")
}

/*
Shutdown stops a run in progress, waits for it to return and clears the
agents' state.
*/
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()

		select {
		case <-done:
		case <-time.After(shutdownWait):
			log.Warn("simulation did not stop within the shutdown window", "wait", shutdownWait)
		}
	}

	m.mu.Lock()
	for _, a := range m.agents {
		a.Reset()
	}
	m.mu.Unlock()

	log.Info("swarm shut down")
}

func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) Steps() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stepCount
}

// Grid exposes the underlying field. Nil before Spawn.
func (m *Manager) Grid() *grid.Grid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grid
}

// Agents returns per-agent metrics in spawn order.
func (m *Manager) Agents() []agent.Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]agent.Metrics, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Metrics())
	}

	return out
}

func (m *Manager) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.spawned {
		return View{}
	}

	size := m.grid.Size()
	active := make([][]bool, size)
	for i := range active {
		active[i] = make([]bool, size)
	}

	for _, a := range m.agents {
		active[a.Row()][a.Col()] = a.Active()
	}

	return View{
		Size:   size,
		Step:   m.stepCount,
		State:  m.grid.State(),
		Active: active,
	}
}

// ExperimentData is the full export of a swarm's recorded run.
type ExperimentData struct {
	Timestamp   time.Time             `json:"timestamp"`
	Config      Config                `json:"swarm_config"`
	AgentCount  int                   `json:"agent_count"`
	TotalSteps  int                   `json:"total_steps"`
	Running     bool                  `json:"simulation_running"`
	Final       StepMetrics           `json:"final_metrics"`
	History     []StepMetrics         `json:"complete_metrics_history"`
	Patterns    []rules.Snapshot      `json:"pattern_history"`
	Compression grid.CompressionStats `json:"compression_analysis"`
	Gliders     []rules.Glider        `json:"emergence_patterns"`
}

// Export writes the recorded experiment as indented JSON.
func (m *Manager) Export(w io.Writer) error {
	m.mu.RLock()

	if !m.spawned {
		m.mu.RUnlock()
		return errors.ErrNotSpawned
	}

	data := ExperimentData{
		Timestamp:   time.Now(),
		Config:      m.cfg,
		AgentCount:  len(m.agents),
		TotalSteps:  m.stepCount,
		Running:     m.running,
		Final:       m.collect(nil),
		History:     append([]StepMetrics(nil), m.history...),
		Patterns:    m.patterns.History(),
		Compression: m.grid.CompressionStats(),
		Gliders:     rules.DetectGliders(m.agents, m.grid.Size()),
	}

	m.mu.RUnlock()

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(data)
}

// ExportFile writes Export's output to path.
func (m *Manager) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	if err := m.Export(f); err != nil {
		return err
	}

	log.Info("experiment exported", "path", path, "records", len(m.History()))
	return nil
}
