package gate

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/metrics"
	"github.com/theapemachine/gridswarm/pkg/proof"
)

/*
Runner executes gates under hardware proof and persists each verdict as a
verified checkpoint. Gates run in sequence so every attestation chains to
the one before it.
*/
type Runner struct {
	store    checkpoint.Store
	cfg      Config
	runID    string
	previous string
}

func NewRunner(store checkpoint.Store, cfg Config) *Runner {
	return &Runner{
		store: store,
		cfg:   cfg,
		runID: proof.NewRunID(),
	}
}

func (runner *Runner) RunID() string {
	return runner.runID
}

/*
Run executes gate id and writes its checkpoint. A gate that errors is
recorded as failed with the error as reason, so a broken run still leaves
evidence behind. Only unknown ids and storage failures return an error.
*/
func (runner *Runner) Run(ctx context.Context, id int) (proof.Attestation, error) {
	name, _, err := lookup(id)
	if err != nil {
		return proof.Attestation{}, err
	}

	recorder := proof.NewRecorder(
		runner.runID, name, runner.cfg,
		proof.WithRecorderWriter(runner.store),
		proof.WithPrevious(runner.previous),
	)

	if _, err := recorder.StartRun(ctx); err != nil {
		return proof.Attestation{}, err
	}

	if _, err := recorder.Proof().Measure(ctx, proof.MeasureInitial, runner.cfg.MinMeasure); err != nil {
		return proof.Attestation{}, err
	}

	log.Info("running gate", "gate", id, "name", name, "run", runner.runID)

	result, runErr := Run(ctx, id, runner.cfg)
	if runErr != nil {
		if ctx.Err() != nil {
			return proof.Attestation{}, ctx.Err()
		}

		result.Passed = false
		result.Reason = runErr.Error()
		log.Error("gate errored", "gate", id, "error", runErr)
	}

	if _, err := recorder.RequireSustained(ctx, runner.cfg.MinMeasure); err != nil {
		return proof.Attestation{}, err
	}

	if _, err := recorder.RecordMetrics("gate_complete", map[string]any{
		"measured":  result.Measured,
		"threshold": result.Threshold,
	}); err != nil {
		return proof.Attestation{}, err
	}

	attestation, err := recorder.FinalizeRun(ctx, result.Passed, result)
	if err != nil {
		return proof.Attestation{}, err
	}

	buf, err := json.MarshalIndent(attestation, "", "  ")
	if err != nil {
		return proof.Attestation{}, err
	}

	if err := runner.store.Put(ctx, checkpoint.GateResultKey(id, name), buf); err != nil {
		return proof.Attestation{}, err
	}

	runner.previous = attestation.HardwareProofs.Signature
	metrics.ObserveGate(name, result.Passed)

	log.Info(
		"gate finished",
		"gate", id,
		"passed", result.Passed,
		"reason", result.Reason,
		"authenticity", attestation.Authentic(),
		"completeness", attestation.ProofCompleteness,
	)

	return attestation, nil
}

// RunAll runs the given gates in order and stops at the first hard error.
func (runner *Runner) RunAll(ctx context.Context, ids []int) (map[int]proof.Attestation, error) {
	out := make(map[int]proof.Attestation, len(ids))

	for _, id := range ids {
		attestation, err := runner.Run(ctx, id)
		if err != nil {
			return out, err
		}
		out[id] = attestation
	}

	return out, nil
}
