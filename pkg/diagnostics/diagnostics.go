/*
Package diagnostics reads host memory and CPU pressure from procfs and
turns it, together with a fleet's success rate, into a scaling advice.
*/
package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/procfs"
	"github.com/theapemachine/gridswarm/pkg/metrics"
)

type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

const (
	warnFraction   = 0.8
	historyWindow  = 10
	degradedAfter  = 3
	minBots        = 2
	scaleUpBots    = 2
	lowSuccessRate = 0.75
	highSuccess    = 0.9
)

type Config struct {
	MaxMemoryPercent float64       `mapstructure:"max_memory_percent"`
	MaxCPUPercent    float64       `mapstructure:"max_cpu_percent"`
	CPUSample        time.Duration `mapstructure:"cpu_sample"`
}

func DefaultConfig() Config {
	return Config{
		MaxMemoryPercent: 80,
		MaxCPUPercent:    90,
		CPUSample:        time.Second,
	}
}

// Result is one check reading.
type Result struct {
	Check     string         `json:"check_name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type Recommendation struct {
	Action        string `json:"action"`
	SuggestedBots int    `json:"suggested_bots"`
	Reason        string `json:"reason"`
}

type Health struct {
	Overall  string `json:"overall_health"`
	Errors   int    `json:"recent_errors"`
	Warnings int    `json:"recent_warnings"`
	Checks   int    `json:"total_checks"`
}

/*
Diagnostics runs host checks and keeps every result for HealthSummary. It
is safe for concurrent use.
*/
type Diagnostics struct {
	cfg  Config
	root string
	fs   procfs.FS

	mu      sync.Mutex
	history []Result
}

type Option func(*Diagnostics)

// WithProcRoot reads a proc tree mounted somewhere other than /proc.
func WithProcRoot(root string) Option {
	return func(diag *Diagnostics) {
		diag.root = root
	}
}

func New(cfg Config, options ...Option) (*Diagnostics, error) {
	defaults := DefaultConfig()

	if cfg.MaxMemoryPercent <= 0 {
		cfg.MaxMemoryPercent = defaults.MaxMemoryPercent
	}

	if cfg.MaxCPUPercent <= 0 {
		cfg.MaxCPUPercent = defaults.MaxCPUPercent
	}

	diag := &Diagnostics{cfg: cfg}

	for _, option := range options {
		option(diag)
	}

	var err error

	if diag.root == "" {
		diag.fs, err = procfs.NewDefaultFS()
	} else {
		diag.fs, err = procfs.NewFS(diag.root)
	}

	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}

	return diag, nil
}

// CheckMemoryPressure compares used memory against MaxMemoryPercent.
func (diag *Diagnostics) CheckMemoryPressure() (Result, error) {
	meminfo, err := diag.fs.Meminfo()
	if err != nil {
		return Result{}, fmt.Errorf("read meminfo: %w", err)
	}

	if meminfo.MemTotal == nil || meminfo.MemAvailable == nil || *meminfo.MemTotal == 0 {
		return Result{}, fmt.Errorf("meminfo lacks MemTotal or MemAvailable")
	}

	total := float64(*meminfo.MemTotal)
	available := float64(*meminfo.MemAvailable)
	used := (total - available) / total * 100

	status, message := grade("Memory usage", used, diag.cfg.MaxMemoryPercent)

	return diag.record(Result{
		Check:   "memory_pressure",
		Status:  status,
		Message: message,
		Data: map[string]any{
			"percent_used": used,
			"available_gb": available / (1024 * 1024),
			"threshold":    diag.cfg.MaxMemoryPercent,
		},
	}), nil
}

/*
CheckCPULoad samples /proc/stat over CPUSample and compares busy time with
MaxCPUPercent. Without a usable sample it falls back to the one minute load
average per CPU.
*/
func (diag *Diagnostics) CheckCPULoad(ctx context.Context) (Result, error) {
	before, err := diag.fs.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("read stat: %w", err)
	}

	percent, source := 0.0, "stat"
	after := before

	if diag.cfg.CPUSample > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(diag.cfg.CPUSample):
		}

		if after, err = diag.fs.Stat(); err != nil {
			return Result{}, fmt.Errorf("read stat: %w", err)
		}
	}

	busy := busySeconds(after.CPUTotal) - busySeconds(before.CPUTotal)
	total := totalSeconds(after.CPUTotal) - totalSeconds(before.CPUTotal)

	if total > 0 {
		percent = busy / total * 100
	} else {
		load, err := diag.fs.LoadAvg()
		if err != nil {
			return Result{}, fmt.Errorf("read loadavg: %w", err)
		}

		percent = load.Load1 / float64(max(len(after.CPU), 1)) * 100
		source = "loadavg"
	}

	status, message := grade("CPU usage", percent, diag.cfg.MaxCPUPercent)

	return diag.record(Result{
		Check:   "cpu_load",
		Status:  status,
		Message: message,
		Data: map[string]any{
			"cpu_percent": percent,
			"threshold":   diag.cfg.MaxCPUPercent,
			"cpus":        len(after.CPU),
			"source":      source,
		},
	}), nil
}

/*
RecommendScaling runs both checks and advises on fleet size. successRate is
a fraction in 0..1. Exhausted resources halve the fleet, a poor success
rate trims it by a quarter and a healthy, successful fleet grows by two.
*/
func (diag *Diagnostics) RecommendScaling(ctx context.Context, bots int, successRate float64) (Recommendation, error) {
	memory, err := diag.CheckMemoryPressure()
	if err != nil {
		return Recommendation{}, err
	}

	cpu, err := diag.CheckCPULoad(ctx)
	if err != nil {
		return Recommendation{}, err
	}

	advice := Recommendation{
		Action:        "maintain",
		SuggestedBots: bots,
		Reason:        "system performing well",
	}

	switch {
	case memory.Status == StatusError || cpu.Status == StatusError:
		advice = Recommendation{
			Action:        "scale_down",
			SuggestedBots: max(minBots, bots/2),
			Reason:        "resource exhaustion detected",
		}
	case successRate < lowSuccessRate:
		advice = Recommendation{
			Action:        "scale_down",
			SuggestedBots: max(minBots, int(float64(bots)*lowSuccessRate)),
			Reason:        fmt.Sprintf("low success rate: %.1f%%", successRate*100),
		}
	case memory.Status == StatusOK && cpu.Status == StatusOK && successRate > highSuccess:
		advice = Recommendation{
			Action:        "scale_up",
			SuggestedBots: bots + scaleUpBots,
			Reason:        "system has capacity for more bots",
		}
	}

	log.Info("scaling advice", "action", advice.Action, "bots", bots, "suggested", advice.SuggestedBots, "reason", advice.Reason)
	return advice, nil
}

// HealthSummary grades the last ten results.
func (diag *Diagnostics) HealthSummary() Health {
	diag.mu.Lock()
	defer diag.mu.Unlock()

	recent := diag.history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}

	health := Health{Overall: "HEALTHY", Checks: len(diag.history)}

	for _, result := range recent {
		switch result.Status {
		case StatusError:
			health.Errors++
		case StatusWarning:
			health.Warnings++
		}
	}

	switch {
	case health.Errors > 0:
		health.Overall = "CRITICAL"
	case health.Warnings > degradedAfter:
		health.Overall = "DEGRADED"
	}

	return health
}

// History returns a copy of every recorded result.
func (diag *Diagnostics) History() []Result {
	diag.mu.Lock()
	defer diag.mu.Unlock()
	return append([]Result(nil), diag.history...)
}

func (diag *Diagnostics) record(result Result) Result {
	result.Timestamp = time.Now()

	diag.mu.Lock()
	diag.history = append(diag.history, result)
	diag.mu.Unlock()

	level := 0
	switch result.Status {
	case StatusWarning:
		level = 1
	case StatusError:
		level = 2
	}
	metrics.SetDiagnosticLevel(result.Check, level)

	if result.Status != StatusOK {
		log.Warn("diagnostic check", "check", result.Check, "status", result.Status, "message", result.Message)
	}

	return result
}

func grade(label string, value, limit float64) (Status, string) {
	switch {
	case value > limit:
		return StatusError, fmt.Sprintf("%s %.1f%% exceeds threshold %.0f%%", label, value, limit)
	case value > limit*warnFraction:
		return StatusWarning, fmt.Sprintf("%s %.1f%% approaching threshold", label, value)
	default:
		return StatusOK, fmt.Sprintf("%s %.1f%% is healthy", label, value)
	}
}

func busySeconds(cpu procfs.CPUStat) float64 {
	return cpu.User + cpu.Nice + cpu.System + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
}

func totalSeconds(cpu procfs.CPUStat) float64 {
	return busySeconds(cpu) + cpu.Idle + cpu.Iowait
}
