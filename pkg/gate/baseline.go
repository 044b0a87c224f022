package gate

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	baselineSlack    = 1.5
	baselineChunkLen = 1000
)

/*
Baseline proves the host runs goroutines in parallel before anything is
scaled onto it. One worker first measures how many work chunks fit in
BaselineTask, then BaselineWorkers goroutines each do that much work at
once. Parallel workers finish in about BaselineTask; the gate allows 1.5x.
*/
func Baseline(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaselineWorkers <= 0 || cfg.BaselineTask <= 0 {
		return Result{}, errors.ErrInvalidConfig.WithMessagef(
			"baseline needs positive workers and task duration, got %d and %s", cfg.BaselineWorkers, cfg.BaselineTask,
		)
	}

	chunks, sink := calibrate(cfg.BaselineTask)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var (
		group, groupCtx = errgroup.WithContext(ctx)
		sums            = make([]float64, cfg.BaselineWorkers)
		start           = time.Now()
	)

	for worker := range cfg.BaselineWorkers {
		group.Go(func() error {
			for i := 0; i < chunks; i++ {
				if i%64 == 0 && groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				sums[worker] += chunk()
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Result{}, err
	}

	elapsed := time.Since(start)
	threshold := cfg.BaselineTask.Seconds() * baselineSlack
	serial := cfg.BaselineTask.Seconds() * float64(cfg.BaselineWorkers)
	speedup := serial / elapsed.Seconds()
	passed := elapsed.Seconds() < threshold

	interpretation := "parallel"
	if !passed {
		interpretation = "sequential"
	}

	for _, sum := range sums {
		sink += sum
	}

	log.Debug("baseline finished", "workers", cfg.BaselineWorkers, "elapsed", elapsed, "speedup", speedup, "sink", sink)

	return Result{
		Passed:    passed,
		Measured:  elapsed.Seconds(),
		Threshold: threshold,
		Reason: fmt.Sprintf(
			"%d workers x %s took %.3fs (required < %.3fs), speedup %.2fx",
			cfg.BaselineWorkers, cfg.BaselineTask, elapsed.Seconds(), threshold, speedup,
		),
		Details: map[string]any{
			"workers":         cfg.BaselineWorkers,
			"task_seconds":    cfg.BaselineTask.Seconds(),
			"chunks_per_task": chunks,
			"elapsed_seconds": elapsed.Seconds(),
			"speedup_factor":  math.Round(speedup*100) / 100,
			"gomaxprocs":      runtime.GOMAXPROCS(0),
			"interpretation":  interpretation,
		},
	}, nil
}

// calibrate counts the chunks one goroutine finishes in task.
func calibrate(task time.Duration) (int, float64) {
	var (
		chunks int
		sink   float64
		start  = time.Now()
	)

	for time.Since(start) < task {
		sink += chunk()
		chunks++
	}

	return max(chunks, 1), sink
}

func chunk() float64 {
	result := 0.0

	for i := range baselineChunkLen {
		f := float64(i)
		result += f * f / math.Sqrt(f+1)
	}

	return result
}
