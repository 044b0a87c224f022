package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/grid"
	"github.com/theapemachine/gridswarm/pkg/rules"
)

// Trial is one pattern run inside an experiment series.
type Trial struct {
	Pattern     string      `json:"pattern"`
	Number      int         `json:"trial"`
	Emergence   bool        `json:"emergence_detected"`
	Criteria    []string    `json:"criteria_met"`
	Performance Performance `json:"performance"`
	Simulation  RunConfig   `json:"simulation"`
}

type PerformanceAggregate struct {
	AverageStepsPerSecond float64 `json:"average_steps_per_second"`
	PeakActivation        float64 `json:"peak_activation_observed"`
	AverageActivation     float64 `json:"average_activation_level"`
	Stability             string  `json:"system_stability"`
}

// ResearchReport aggregates every trial the runner has executed.
type ResearchReport struct {
	Timestamp      time.Time             `json:"timestamp"`
	Total          int                   `json:"total_experiments"`
	Successful     int                   `json:"successful_emergence"`
	SuccessRate    float64               `json:"emergence_success_rate"`
	PatternSuccess map[string]float64    `json:"emergence_patterns"`
	Performance    PerformanceAggregate  `json:"performance_characteristics"`
	Recommendation []string              `json:"recommendations"`
	Trials         []Trial               `json:"detailed_results"`
	Compression    grid.CompressionStats `json:"compression"`
	Network        string                `json:"agent_network"`
}

/*
ExperimentRunner repeats pattern injections on one manager and keeps every
trial for the final report.
*/
type ExperimentRunner struct {
	manager *Manager
	trials  []Trial
}

func NewExperimentRunner(manager *Manager) *ExperimentRunner {
	return &ExperimentRunner{manager: manager}
}

/*
RunSeries resets the swarm, injects each pattern at the default position
and runs it for duration, repetitions times per pattern.
*/
func (runner *ExperimentRunner) RunSeries(
	ctx context.Context, patterns []string, repetitions int, duration time.Duration,
) ([]Trial, error) {
	var results []Trial

	for _, pattern := range patterns {
		log.Info("running emergence series", "pattern", pattern, "repetitions", repetitions)

		for rep := 1; rep <= repetitions; rep++ {
			if err := ctx.Err(); err != nil {
				runner.trials = append(runner.trials, results...)
				return results, err
			}

			runner.manager.Reset()

			if err := runner.manager.InjectPattern(pattern, nil, 1.0); err != nil {
				runner.trials = append(runner.trials, results...)
				return results, err
			}

			summary, err := runner.manager.Run(ctx, RunOptions{Duration: duration})
			if err != nil {
				runner.trials = append(runner.trials, results...)
				return results, fmt.Errorf("trial %d of %s: %w", rep, pattern, err)
			}

			emerged, met := analyzeEmergence(summary)

			results = append(results, Trial{
				Pattern:     pattern,
				Number:      rep,
				Emergence:   emerged,
				Criteria:    met,
				Performance: summary.Performance,
				Simulation:  summary.Config,
			})

			log.Debug("trial complete", "pattern", pattern, "trial", rep, "emergence", emerged)
		}
	}

	runner.trials = append(runner.trials, results...)
	return results, nil
}

/*
analyzeEmergence applies four criteria to a finished run. Emergence needs
at least two of them.
*/
func analyzeEmergence(summary Summary) (bool, []string) {
	criteria := []struct {
		name string
		met  bool
	}{
		{"activation_peak", summary.Performance.PeakActivation > 0.3},
		{"traveling_pattern", summary.Evolution.Type == rules.EvolutionTraveling},
		{"glider_detection", summary.Gliders > 0},
		{"behavior_complexity", summary.Evolution.Type != rules.EvolutionInsufficient && summary.Evolution.Stability < 0.8},
	}

	var met []string
	for _, c := range criteria {
		if c.met {
			met = append(met, c.name)
		}
	}

	return len(met) >= 2, met
}

func (runner *ExperimentRunner) Trials() []Trial {
	return append([]Trial(nil), runner.trials...)
}

func (runner *ExperimentRunner) patternSuccess() map[string]float64 {
	counts := map[string][2]int{}

	for _, t := range runner.trials {
		c := counts[t.Pattern]
		c[1]++
		if t.Emergence {
			c[0]++
		}
		counts[t.Pattern] = c
	}

	out := make(map[string]float64, len(counts))
	for pattern, c := range counts {
		out[pattern] = float64(c[0]) / float64(c[1])
	}

	return out
}

func (runner *ExperimentRunner) performance() PerformanceAggregate {
	if len(runner.trials) == 0 {
		return PerformanceAggregate{}
	}

	var agg PerformanceAggregate
	var sps, avg float64

	for _, t := range runner.trials {
		sps += t.Performance.StepsPerSecond
		avg += t.Performance.AverageActivation

		if t.Performance.PeakActivation > agg.PeakActivation {
			agg.PeakActivation = t.Performance.PeakActivation
		}
	}

	n := float64(len(runner.trials))
	agg.AverageStepsPerSecond = sps / n
	agg.AverageActivation = avg / n
	agg.Stability = "Needs optimization"

	if agg.AverageStepsPerSecond > 10 {
		agg.Stability = "Good"
	}

	return agg
}

func (runner *ExperimentRunner) recommendations(success map[string]float64, perf PerformanceAggregate) []string {
	var out []string

	if len(runner.trials) < 5 {
		out = append(out, "Increase experiment sample size for statistical significance")
	}

	names := make([]string, 0, len(success))
	for name := range success {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestRate := "", -1.0
	for _, name := range names {
		if success[name] > bestRate {
			best, bestRate = name, success[name]
		}
	}

	if bestRate > 0.5 {
		out = append(out, fmt.Sprintf("Pursue further research with %s patterns (shows strong emergence)", best))
	} else {
		out = append(out, "Explore additional pattern configurations for emergence optimization")
	}

	if perf.AverageStepsPerSecond < 5 {
		out = append(out, "Optimize grid reconstruction for better performance")
	} else {
		out = append(out, "Current performance suitable for extensive emergence research")
	}

	return out
}

func (runner *ExperimentRunner) Report() ResearchReport {
	success := runner.patternSuccess()
	perf := runner.performance()

	var successful int
	for _, t := range runner.trials {
		if t.Emergence {
			successful++
		}
	}

	report := ResearchReport{
		Timestamp:      time.Now(),
		Total:          len(runner.trials),
		Successful:     successful,
		PatternSuccess: success,
		Performance:    perf,
		Recommendation: runner.recommendations(success, perf),
		Trials:         runner.Trials(),
	}

	if report.Total > 0 {
		report.SuccessRate = float64(successful) / float64(report.Total)
	}

	if stats, err := runner.manager.CompressionStats(); err == nil {
		report.Compression = stats
	}

	size := runner.manager.Config().GridSize
	report.Network = fmt.Sprintf("%dx%d von Neumann grid", size, size)

	return report
}

// WriteReport stores Report as indented JSON at path.
func (runner *ExperimentRunner) WriteReport(path string) error {
	buf, err := json.MarshalIndent(runner.Report(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode research report: %w", err)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write research report: %w", err)
	}

	log.Info("research report written", "path", path, "experiments", len(runner.trials))
	return nil
}
