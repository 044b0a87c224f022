package proof

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunContext is returned by StartRun and stored as the run's first artifact.
type RunContext struct {
	RunID       string           `json:"run_id"`
	GateID      string           `json:"gate_id"`
	ExecutionID string           `json:"execution_id"`
	StartTime   time.Time        `json:"start_time"`
	ConfigHash  string           `json:"config_hash"`
	Baseline    ResourceSnapshot `json:"system_baseline"`
	Challenge   Challenge        `json:"hardware_challenge"`
	StartProof  ArtifactRef      `json:"initial_proofs"`
}

// MetricsRecord is one labelled sample taken during a run.
type MetricsRecord struct {
	RunID         string           `json:"run_id"`
	GateID        string           `json:"gate_id"`
	ExecutionID   string           `json:"execution_id"`
	Label         string           `json:"label"`
	Timestamp     time.Time        `json:"timestamp"`
	Elapsed       float64          `json:"elapsed_seconds"`
	Resources     ResourceSnapshot `json:"resources"`
	EntropySample string           `json:"entropy_sample"`
	TimingEntropy string           `json:"timing_entropy"`
	Extra         map[string]any   `json:"extra_data,omitempty"`
}

type artifactEnvelope struct {
	Metadata  artifactMetadata `json:"metadata"`
	Data      any              `json:"data"`
	Signature string           `json:"signature,omitempty"`
}

type artifactMetadata struct {
	RunID       string    `json:"run_id"`
	GateID      string    `json:"gate_id"`
	ExecutionID string    `json:"execution_id"`
	CreatedAt   time.Time `json:"created_at"`
	Filename    string    `json:"filename"`
	DataHash    string    `json:"data_hash"`
}

// Evidence is the result signed by FinalizeRun.
type Evidence struct {
	RunID        string          `json:"run_id"`
	GateID       string          `json:"gate_id"`
	ExecutionID  string          `json:"execution_id"`
	Verdict      string          `json:"verdict"`
	GatePassed   bool            `json:"gate_passed"`
	Results      any             `json:"results"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Duration     float64         `json:"duration_seconds"`
	ConfigHash   string          `json:"config_hash"`
	Metrics      []MetricsRecord `json:"metrics_history"`
	Artifacts    []string        `json:"artifacts_created"`
	Signatures   []string        `json:"signatures_created"`
	Completeness string          `json:"proof_completeness"`
}

/*
Recorder instruments one gate run on top of a Proof. Every signature it
produces is chained to the one before it, starting from the previous gate's
signature when one is given.
*/
type Recorder struct {
	mu         sync.Mutex
	runID      string
	gateID     string
	config     any
	proof      *Proof
	writer     Writer
	previous   string
	started    bool
	start      time.Time
	history    []MetricsRecord
	artifacts  []string
	signatures []string
}

type RecorderOption func(*Recorder)

func WithRecorderWriter(writer Writer) RecorderOption {
	return func(recorder *Recorder) {
		recorder.writer = writer
	}
}

// WithPrevious links this run to the signature of an earlier gate.
func WithPrevious(signature string) RecorderOption {
	return func(recorder *Recorder) {
		recorder.previous = signature
	}
}

func NewRecorder(runID, gateID string, config any, options ...RecorderOption) *Recorder {
	recorder := &Recorder{
		runID:  runID,
		gateID: gateID,
		config: config,
	}

	for _, option := range options {
		option(recorder)
	}

	recorder.proof = New(gateID, WithWriter(recorder.writer))

	return recorder
}

func (recorder *Recorder) Proof() *Proof {
	return recorder.proof
}

func (recorder *Recorder) ExecutionID() string {
	return recorder.proof.ExecutionID()
}

// StartRun begins the proof, records run_start and writes {gate}_initial.json.
func (recorder *Recorder) StartRun(ctx context.Context) (RunContext, error) {
	recorder.mu.Lock()
	if recorder.started {
		recorder.mu.Unlock()
		return RunContext{}, fmt.Errorf("run %s already started", recorder.runID)
	}
	recorder.started = true
	recorder.start = time.Now()
	recorder.mu.Unlock()

	ref, err := recorder.proof.Begin(ctx)
	if err != nil {
		return RunContext{}, err
	}

	if _, err := recorder.RecordMetrics("run_start", nil); err != nil {
		return RunContext{}, err
	}

	run := RunContext{
		RunID:       recorder.runID,
		GateID:      recorder.gateID,
		ExecutionID: recorder.ExecutionID(),
		StartTime:   recorder.start,
		ConfigHash:  hashJSON(recorder.config),
		Baseline:    recorder.proof.Baseline(),
		Challenge:   recorder.proof.Challenge(),
		StartProof:  ref,
	}

	if _, err := recorder.WriteArtifact(ctx, recorder.gateID+"_initial.json", run); err != nil {
		return RunContext{}, err
	}

	return run, nil
}

func (recorder *Recorder) RecordMetrics(label string, extra map[string]any) (MetricsRecord, error) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()

	if !recorder.started {
		return MetricsRecord{}, fmt.Errorf("run %s not started", recorder.runID)
	}

	now := time.Now()

	record := MetricsRecord{
		RunID:         recorder.runID,
		GateID:        recorder.gateID,
		ExecutionID:   recorder.ExecutionID(),
		Label:         label,
		Timestamp:     now,
		Elapsed:       now.Sub(recorder.start).Seconds(),
		Resources:     TakeSnapshot(),
		EntropySample: nonce()[:32],
		TimingEntropy: timingEntropy(artifactEntropyRounds),
		Extra:         extra,
	}

	recorder.history = append(recorder.history, record)
	return record, nil
}

// RequireSustained measures the test execution window.
func (recorder *Recorder) RequireSustained(ctx context.Context, minDuration time.Duration) (Measurement, error) {
	return recorder.proof.Measure(ctx, MeasureTestExecution, minDuration)
}

/*
Sign hashes payload and chains it: the signature is the sha256 of the
previous signature, the payload hash and the execution id.
*/
func (recorder *Recorder) Sign(payload any) string {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return recorder.sign(payload)
}

func (recorder *Recorder) sign(payload any) string {
	previous := recorder.previous
	if n := len(recorder.signatures); n > 0 {
		previous = recorder.signatures[n-1]
	}

	signature := chainSignature(previous, hashJSON(payload), recorder.ExecutionID())
	recorder.signatures = append(recorder.signatures, signature)

	return signature
}

func chainSignature(previous, payloadHash, executionID string) string {
	return hashString(previous + payloadHash + executionID)
}

/*
VerifyChain checks the link to the earlier gate: "first_gate" without one,
"chain_valid" when it is a sha256 hex digest, "chain_invalid" otherwise.
*/
func (recorder *Recorder) VerifyChain() string {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return recorder.chainStatus()
}

func (recorder *Recorder) chainStatus() string {
	if recorder.previous == "" {
		return "first_gate"
	}

	if decoded, err := hex.DecodeString(recorder.previous); err != nil || len(decoded) != 32 {
		return "chain_invalid"
	}

	return "chain_valid"
}

func (recorder *Recorder) Signatures() []string {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return append([]string(nil), recorder.signatures...)
}

// WriteArtifact wraps data in a signed envelope and stores it under {runID}/{name}.
func (recorder *Recorder) WriteArtifact(ctx context.Context, name string, data any) (string, error) {
	recorder.mu.Lock()

	if !recorder.started {
		recorder.mu.Unlock()
		return "", fmt.Errorf("run %s not started", recorder.runID)
	}

	envelope := artifactEnvelope{
		Metadata: artifactMetadata{
			RunID:       recorder.runID,
			GateID:      recorder.gateID,
			ExecutionID: recorder.ExecutionID(),
			CreatedAt:   time.Now(),
			Filename:    name,
			DataHash:    hashJSON(data),
		},
		Data: data,
	}
	envelope.Signature = recorder.sign(data)
	key := path.Join(recorder.runID, name)
	recorder.artifacts = append(recorder.artifacts, key)

	recorder.mu.Unlock()

	if recorder.writer == nil {
		return key, nil
	}

	buf, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact %s: %w", name, err)
	}

	if err := recorder.writer.Put(ctx, key, buf); err != nil {
		return "", fmt.Errorf("store artifact %s: %w", name, err)
	}

	return key, nil
}

/*
completeness grades the evidence gathered so far. All checks passing is
HARDWARE_VERIFIED_COMPLETE, none passing is HALLUCINATION_RISK.
*/
func (recorder *Recorder) completeness() string {
	checks := []bool{
		len(recorder.history) >= 3,
		len(recorder.artifacts) >= 2,
		len(recorder.signatures) >= 1,
		recorder.proof.Verify().Authentic,
	}

	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}

	switch passed {
	case len(checks):
		return CompletenessVerified
	case 0:
		return CompletenessRisk
	default:
		return CompletenessPartial
	}
}

/*
FinalizeRun signs the run's evidence through the proof, links it into the
signature chain and stores it as {gate}_complete.json.
*/
func (recorder *Recorder) FinalizeRun(ctx context.Context, passed bool, results any) (Attestation, error) {
	verdict := "FAIL"
	if passed {
		verdict = "PASS"
	}

	if _, err := recorder.RecordMetrics("run_final", map[string]any{"verdict": verdict}); err != nil {
		return Attestation{}, err
	}

	recorder.mu.Lock()
	end := time.Now()
	evidence := Evidence{
		RunID:        recorder.runID,
		GateID:       recorder.gateID,
		ExecutionID:  recorder.ExecutionID(),
		Verdict:      verdict,
		GatePassed:   passed,
		Results:      results,
		StartTime:    recorder.start,
		EndTime:      end,
		Duration:     end.Sub(recorder.start).Seconds(),
		ConfigHash:   hashJSON(recorder.config),
		Metrics:      append([]MetricsRecord(nil), recorder.history...),
		Artifacts:    append([]string(nil), recorder.artifacts...),
		Signatures:   append([]string(nil), recorder.signatures...),
		Completeness: recorder.completeness(),
	}
	recorder.mu.Unlock()

	attestation, err := recorder.proof.Finalize(ctx, evidence)
	if err != nil {
		return Attestation{}, err
	}

	recorder.mu.Lock()
	attestation.ValidationChain = &ChainLink{
		GateID:     recorder.gateID,
		RunID:      recorder.runID,
		Previous:   recorder.previous,
		Current:    attestation.HardwareProofs.Signature,
		Validation: recorder.chainStatus(),
	}
	recorder.mu.Unlock()

	if _, err := recorder.WriteArtifact(ctx, recorder.gateID+"_complete.json", attestation); err != nil {
		return Attestation{}, err
	}

	return attestation, nil
}

// NewRunID returns a fresh identifier for a validation run.
func NewRunID() string {
	return uuid.NewString()
}
