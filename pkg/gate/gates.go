package gate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/agent"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/grid"
	"github.com/theapemachine/gridswarm/pkg/rules"
	"github.com/theapemachine/gridswarm/pkg/swarm"
	"golang.org/x/sync/errgroup"
)

const (
	compressionThreshold = 100.0
	waveMaxSteps         = 50
	waveTarget           = 0.1
	gliderSteps          = 30
	gliderMovement       = 2.0
	gliderActive         = 0.1
	decayLow             = 0.45
	decayHigh            = 0.55
	decayFill            = 2.0
	minStepsPerSecond    = 0.1
	abortStepsPerSecond  = 0.05
	abortAfter           = 10 * time.Second
	minSampleInterval    = 10 * time.Millisecond
)

var (
	compressionRanks = []int{2, 4, 6, 8}
	decayHalfLives   = []int{5, 10, 20, 50}
	gliderCells      = []agent.Position{{Row: 5, Col: 5}, {Row: 6, Col: 6}, {Row: 4, Col: 7}, {Row: 5, Col: 7}, {Row: 6, Col: 7}}
)

// Compression compares the full state size with the Δ-only payload per rank.
func Compression(_ context.Context, cfg Config) (Result, error) {
	ranks := map[string]any{}
	best := 0.0

	for _, rank := range compressionRanks {
		g, err := grid.New(grid.WithSize(cfg.GridSize), grid.WithRank(rank))
		if err != nil {
			return Result{}, err
		}

		stats := g.CompressionStats()
		ranks[fmt.Sprintf("rank_%d", rank)] = stats
		best = math.Max(best, stats.DeltaOnlyRatio)
	}

	result := Result{
		Passed:    best > compressionThreshold,
		Measured:  best,
		Threshold: compressionThreshold,
		Details:   map[string]any{"rank_results": ranks},
	}

	result.Reason = fmt.Sprintf("best delta-only ratio %.1fx (required > %.0fx)", best, compressionThreshold)
	return result, nil
}

/*
WavePropagation injects at (0,0) and lets agents relay influence until the
opposite corner reads at least 0.1.
*/
func WavePropagation(ctx context.Context, cfg Config) (Result, error) {
	g, err := grid.New(grid.WithSize(cfg.GridSize), grid.WithRank(cfg.Rank), grid.WithHalfLife(20))
	if err != nil {
		return Result{}, err
	}

	agents, err := agent.Full(g, agent.WithThreshold(0.1))
	if err != nil {
		return Result{}, err
	}

	g.FlipBit(0, 1.0)

	target := cfg.GridSize - 1
	reached := 0
	var influence float64
	trace := make([]float64, 0, waveMaxSteps)

	for step := 1; step <= waveMaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		for _, a := range agents {
			a.Update()
		}

		influence = g.Influence(target, target)
		trace = append(trace, influence)

		if influence >= waveTarget {
			reached = step
			break
		}

		g.DecayStep()
	}

	result := Result{
		Passed:    reached > 0,
		Measured:  float64(reached),
		Threshold: waveMaxSteps,
		Details: map[string]any{
			"target_position": [2]int{target, target},
			"final_influence": influence,
			"influence_trace": trace,
		},
	}

	if reached == 0 {
		result.Reason = fmt.Sprintf("failed to reach target within %d steps", waveMaxSteps)
	} else {
		result.Reason = fmt.Sprintf("reached (%d,%d) in %d steps", target, target, reached)
	}

	return result, nil
}

/*
GliderEmergence seeds a glider, runs update, rules and decay for 30 steps
and measures how far the center of mass of active agents travels. A run
that stalls for ten recorded steps ends early.
*/
func GliderEmergence(ctx context.Context, cfg Config) (Result, error) {
	g, err := grid.New(grid.WithSize(cfg.GridSize), grid.WithRank(cfg.Rank), grid.WithHalfLife(50))
	if err != nil {
		return Result{}, err
	}

	agents, err := agent.Full(g, agent.WithThreshold(0.3))
	if err != nil {
		return Result{}, err
	}

	for _, cell := range gliderCells {
		if !g.Contains(cell.Row, cell.Col) {
			return Result{}, fmt.Errorf("glider cell %s outside a %d grid", cell, cfg.GridSize)
		}

		agents[g.Index(cell.Row, cell.Col)].SetInternal(1.0)
		g.Inject(cell.Row, cell.Col, 1.0)
	}

	conway := rules.NewConway(rules.DefaultParams())
	var centers [][2]float64

	for step := 0; step < gliderSteps; step++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		for _, a := range agents {
			a.Update()
		}

		for _, a := range agents {
			conway.UpdateCell(a, g)
		}

		g.DecayStep()

		if center, ok := activeCenter(agents); ok {
			centers = append(centers, center)
		}

		if len(centers) >= 10 && recentMovement(centers[len(centers)-10:], 5) < 0.1 {
			break
		}
	}

	movement := 0.0
	details := map[string]any{"center_positions_recorded": len(centers)}

	if len(centers) >= 2 {
		first, last := centers[0], centers[len(centers)-1]
		movement = distance(first, last)

		details["initial_position"] = first
		details["final_position"] = last
		details["movement_vector"] = map[string]float64{
			"dx":        last[0] - first[0],
			"dy":        last[1] - first[1],
			"distance":  movement,
			"direction": math.Mod(math.Atan2(last[1]-first[1], last[0]-first[0])*180/math.Pi+360, 360),
		}
	}

	result := Result{
		Passed:    movement > gliderMovement,
		Measured:  movement,
		Threshold: gliderMovement,
		Details:   details,
	}

	result.Reason = fmt.Sprintf("center of mass moved %.1f cells (required > %.1f)", movement, gliderMovement)
	return result, nil
}

func activeCenter(agents []*agent.Floating) ([2]float64, bool) {
	var row, col float64
	var n int

	for _, a := range agents {
		if a.Internal() > gliderActive {
			row += float64(a.Row())
			col += float64(a.Col())
			n++
		}
	}

	if n == 0 {
		return [2]float64{}, false
	}

	return [2]float64{row / float64(n), col / float64(n)}, true
}

// recentMovement averages the step distance over the last window moves.
func recentMovement(centers [][2]float64, window int) float64 {
	if len(centers) < 2 {
		return 0
	}

	total := 0.0
	for i := len(centers) - 1; i > 0 && i > len(centers)-1-window; i-- {
		total += distance(centers[i], centers[i-1])
	}

	return total / float64(min(window, len(centers)-1))
}

func distance(a, b [2]float64) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

/*
Decay fills Δ with a constant, decays for exactly one half-life per
configuration and checks the norm ratio lands in [0.45, 0.55].
*/
func Decay(_ context.Context, cfg Config) (Result, error) {
	results := map[string]any{}
	passed := 0

	for _, halfLife := range decayHalfLives {
		g, err := grid.New(grid.WithSize(cfg.GridSize), grid.WithRank(cfg.Rank), grid.WithHalfLife(float64(halfLife)))
		if err != nil {
			return Result{}, err
		}

		g.FillDelta(decayFill)
		initial := g.DeltaNorm()

		for i := 0; i < halfLife; i++ {
			g.DecayStep()
		}

		final := g.DeltaNorm()
		ratio := 0.0
		if initial > 0 {
			ratio = final / initial
		}

		within := ratio >= decayLow && ratio <= decayHigh
		if within {
			passed++
		}

		results[fmt.Sprintf("half_life_%d", halfLife)] = map[string]any{
			"initial_norm":     initial,
			"final_norm":       final,
			"decay_ratio":      math.Round(ratio*10000) / 10000,
			"within_tolerance": within,
		}
	}

	required := len(decayHalfLives)/2 + 1

	return Result{
		Passed:    passed >= required,
		Measured:  float64(passed),
		Threshold: float64(required),
		Reason:    fmt.Sprintf("%d/%d half-life configurations within tolerance", passed, len(decayHalfLives)),
		Details:   map[string]any{"results_by_half_life": results},
	}, nil
}

// Sample is one progress reading of a sustained load run.
type Sample struct {
	Elapsed        float64 `json:"elapsed_time"`
	Steps          int     `json:"steps_completed"`
	StepsPerSecond float64 `json:"avg_sps"`
}

/*
SustainedLoad steps a fully populated swarm for LoadDuration while a second
goroutine samples throughput. A panic inside a step fails the gate instead
of the process. The run must last at least half of LoadDuration to count.
*/
func SustainedLoad(ctx context.Context, cfg Config) (Result, error) {
	if cfg.LoadDuration <= 0 {
		return Result{}, errors.ErrInvalidConfig.WithMessagef("sustained load needs a positive duration, got %s", cfg.LoadDuration)
	}

	swarmCfg := swarm.DefaultConfig()
	swarmCfg.GridSize = cfg.GridSize
	swarmCfg.Rank = cfg.Rank
	swarmCfg.HalfLife = 50
	swarmCfg.Threshold = 0.3

	manager, err := swarm.NewManager(swarmCfg)
	if err != nil {
		return Result{}, err
	}

	agents, err := manager.Spawn(swarm.LayoutFull)
	if err != nil {
		return Result{}, err
	}

	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = cfg.LoadDuration / 12
	}
	interval = max(interval, minSampleInterval)

	runCtx, cancel := context.WithTimeout(ctx, cfg.LoadDuration)
	defer cancel()

	var (
		group, groupCtx = errgroup.WithContext(runCtx)
		steps           = make(chan int, 1)
		samples         []Sample
		crash           string
		start           = time.Now()
	)

	group.Go(func() error {
		defer close(steps)

		completed := 0
		defer func() {
			if r := recover(); r != nil {
				crash = fmt.Sprint(r)
				log.Error("sustained load step panicked", "step", completed, "panic", r)
			}
		}()

		for groupCtx.Err() == nil {
			if _, err := manager.Step(); err != nil {
				return err
			}

			completed++

			select {
			case <-steps:
			default:
			}
			steps <- completed
		}

		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		latest := 0

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case n, ok := <-steps:
				if !ok {
					return nil
				}
				latest = n
			case <-ticker.C:
				elapsed := time.Since(start)
				sps := float64(latest) / elapsed.Seconds()
				samples = append(samples, Sample{Elapsed: elapsed.Seconds(), Steps: latest, StepsPerSecond: sps})

				if sps < abortStepsPerSecond && elapsed > abortAfter {
					return fmt.Errorf("throughput collapsed to %.3f steps/s", sps)
				}
			}
		}
	})

	runErr := group.Wait()
	elapsed := time.Since(start)
	completed := manager.Steps()
	sps := float64(completed) / elapsed.Seconds()

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	long := elapsed >= cfg.LoadDuration/2
	passed := sps > minStepsPerSecond && long && crash == "" && runErr == nil

	details := map[string]any{
		"agents":               agents,
		"total_steps":          completed,
		"total_duration":       elapsed.Seconds(),
		"performance_samples":  samples,
		"performance_analysis": analyzeSamples(samples, sps),
	}

	reason := fmt.Sprintf("%d agents stable at %.2f steps/s for %.1fs", agents, sps, elapsed.Seconds())

	switch {
	case crash != "":
		details["crash"] = crash
		reason = "step panicked: " + crash
	case runErr != nil:
		reason = runErr.Error()
	case !long:
		reason = fmt.Sprintf("ran %.1fs of %s", elapsed.Seconds(), cfg.LoadDuration)
	case sps <= minStepsPerSecond:
		reason = fmt.Sprintf("insufficient throughput %.3f steps/s", sps)
	}

	return Result{
		Passed:    passed,
		Measured:  sps,
		Threshold: minStepsPerSecond,
		Reason:    reason,
		Details:   details,
	}, nil
}

// analyzeSamples rates throughput stability by the spread of the samples.
func analyzeSamples(samples []Sample, overall float64) map[string]any {
	if len(samples) == 0 {
		return map[string]any{"stability_rating": "insufficient_data"}
	}

	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, s := range samples {
		lo = math.Min(lo, s.StepsPerSecond)
		hi = math.Max(hi, s.StepsPerSecond)
		sum += s.StepsPerSecond
	}

	mean := sum / float64(len(samples))

	variance := 0.0
	for _, s := range samples {
		variance += (s.StepsPerSecond - mean) * (s.StepsPerSecond - mean)
	}
	stddev := math.Sqrt(variance / float64(len(samples)))

	rating := "poor"
	switch {
	case stddev < 0.01:
		rating = "excellent"
	case stddev < 0.05:
		rating = "good"
	case stddev < 0.2:
		rating = "acceptable"
	}

	analysis := map[string]any{
		"stability_rating":       rating,
		"average_sps":            mean,
		"min_sps":                lo,
		"max_sps":                hi,
		"sps_standard_deviation": stddev,
		"performance_samples":    len(samples),
	}

	if hi > 0 {
		analysis["consistency_ratio"] = lo / hi
	}

	if mean > 0 {
		analysis["overall_vs_sampled"] = overall / mean
	}

	return analysis
}
