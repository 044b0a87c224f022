/*
Package proof records where and how a validation run executed: a host
fingerprint, resource measurements taken during the run, artifacts written
at its start and end, and a signed attestation over the result.
*/
package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	AuthenticityVerified     = "HARDWARE_VERIFIED"
	AuthenticityQuestionable = "QUESTIONABLE"

	CompletenessVerified  = "HARDWARE_VERIFIED_COMPLETE"
	CompletenessPartial   = "PARTIALLY_VERIFIED"
	CompletenessRisk      = "HALLUCINATION_RISK"
	PhaseExecutionStart   = "execution_start"
	PhaseExecutionDone    = "execution_complete"
	MeasureInitial        = "initial_resource_check"
	MeasureTestExecution  = "test_execution"
	signatureVersion      = "1.0"
	verificationMethod    = "hardware_fingerprint_based"
	measurementMethod     = "hardware_resource_validation"
	proofModule           = "gridswarm-proof"
	artifactEntropyRounds = 1000
)

// Writer stores named blobs. checkpoint.Store satisfies it.
type Writer interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Challenge binds a run to its fingerprint and starting resources.
type Challenge struct {
	ExecutionID     string    `json:"execution_id"`
	TestName        string    `json:"test_name"`
	Nonce           string    `json:"nonce"`
	StartTime       time.Time `json:"start_time"`
	FingerprintHash string    `json:"hardware_fingerprint_hash"`
	BaselineHash    string    `json:"resource_baseline_hash"`
}

// Measurement is the resource delta over one timed window.
type Measurement struct {
	Key             string    `json:"validation_key"`
	Duration        float64   `json:"monitoring_duration"`
	CPUSecondsDelta float64   `json:"cpu_seconds_delta"`
	HeapDelta       int64     `json:"heap_delta_bytes"`
	GoroutineDelta  int       `json:"goroutine_delta"`
	GCDelta         uint32    `json:"gc_delta"`
	CPUEntropy      string    `json:"cpu_entropy"`
	Timestamp       time.Time `json:"timestamp"`
	Method          string    `json:"method"`
}

// Artifact is the content of a .proof file.
type Artifact struct {
	TestName          string           `json:"test_name"`
	ExecutionID       string           `json:"execution_id"`
	Phase             string           `json:"phase"`
	Timestamp         time.Time        `json:"timestamp"`
	SystemFingerprint Fingerprint      `json:"system_fingerprint"`
	ResourceSnapshot  ResourceSnapshot `json:"resource_snapshot"`
	Challenge         Challenge        `json:"hardware_challenge"`
	ProofEntropy      string           `json:"proof_entropy"`
}

type ArtifactRef struct {
	File string `json:"artifact_file,omitempty"`
	Hash string `json:"artifact_hash"`
}

type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

type Authenticity struct {
	Checks     []Check   `json:"checks"`
	Authentic  bool      `json:"overall_authentic"`
	VerifiedAt time.Time `json:"verification_timestamp"`
}

type ExecutionProofs struct {
	InitialCheck   *Measurement      `json:"initial_resource_check,omitempty"`
	TestExecution  *Measurement      `json:"test_execution,omitempty"`
	FinalResources *ResourceSnapshot `json:"final_resource_measurement,omitempty"`
	Authenticity   *Authenticity     `json:"authenticity_verification,omitempty"`
}

type HardwareProofs struct {
	SystemFingerprint *Fingerprint    `json:"system_fingerprint,omitempty"`
	ExecutionProofs   ExecutionProofs `json:"execution_proofs"`
	PayloadHash       string          `json:"signature_payload_hash"`
	Signature         string          `json:"hardware_signature"`
	Method            string          `json:"verification_method"`
	Authenticity      string          `json:"execution_authenticity"`
}

type Metadata struct {
	SignedAt time.Time `json:"signed_at"`
	Version  string    `json:"signature_version"`
	Module   string    `json:"hardware_proof_module"`
}

type ChainLink struct {
	GateID     string `json:"gate_id"`
	RunID      string `json:"run_id"`
	Previous   string `json:"previous_signature,omitempty"`
	Current    string `json:"current_signature"`
	Validation string `json:"chain_validation"`
}

/*
Attestation is the signed record of one run. Checkpoints written by the
gate runner use the nested layout; the flat fields at the bottom are only
read back from checkpoints produced by older tooling.
*/
type Attestation struct {
	ExecutionID       string          `json:"execution_id,omitempty"`
	TestResult        json.RawMessage `json:"test_result,omitempty"`
	HardwareProofs    *HardwareProofs `json:"hardware_proofs,omitempty"`
	Metadata          *Metadata       `json:"metadata,omitempty"`
	FinalArtifacts    *ArtifactRef    `json:"final_artifacts,omitempty"`
	ExecutionDuration float64         `json:"execution_duration_seconds"`
	ProofCompleteness string          `json:"proof_completeness,omitempty"`
	ValidationChain   *ChainLink      `json:"validation_chain,omitempty"`

	ExecutionAuthenticity string       `json:"execution_authenticity,omitempty"`
	SystemFingerprint     *Fingerprint `json:"system_fingerprint,omitempty"`
	ValidationTimestamp   *time.Time   `json:"validation_timestamp,omitempty"`
	Timestamp             *time.Time   `json:"timestamp,omitempty"`
}

// Authentic reports the verdict from whichever layout the attestation uses.
func (attestation Attestation) Authentic() string {
	if attestation.HardwareProofs != nil {
		return attestation.HardwareProofs.Authenticity
	}
	return attestation.ExecutionAuthenticity
}

// Fingerprint returns the fingerprint from whichever layout is present.
func (attestation Attestation) Fingerprint() *Fingerprint {
	if attestation.HardwareProofs != nil && attestation.HardwareProofs.SystemFingerprint != nil {
		return attestation.HardwareProofs.SystemFingerprint
	}
	return attestation.SystemFingerprint
}

// Passed reads gate_passed out of the test result, if there is one.
func (attestation Attestation) Passed() (bool, bool) {
	if len(attestation.TestResult) == 0 {
		return false, false
	}

	var result struct {
		Passed *bool `json:"gate_passed"`
	}

	if err := json.Unmarshal(attestation.TestResult, &result); err != nil || result.Passed == nil {
		return false, false
	}

	return *result.Passed, true
}

/*
Proof tracks a single execution. It is safe for concurrent use, but a run
normally drives it from one goroutine: New, Begin, Measure, Finalize.
*/
type Proof struct {
	mu          sync.Mutex
	testName    string
	executionID string
	start       time.Time
	fingerprint Fingerprint
	baseline    ResourceSnapshot
	challenge   Challenge
	proofs      ExecutionProofs
	writer      Writer
}

type Option func(*Proof)

// WithWriter stores the start and completion artifacts through writer.
func WithWriter(writer Writer) Option {
	return func(prf *Proof) {
		prf.writer = writer
	}
}

func New(testName string, options ...Option) *Proof {
	prf := &Proof{
		testName:    testName,
		executionID: uuid.NewString(),
		start:       time.Now(),
		fingerprint: NewFingerprint(),
		baseline:    TakeSnapshot(),
	}

	for _, option := range options {
		option(prf)
	}

	prf.challenge = Challenge{
		ExecutionID:     prf.executionID,
		TestName:        testName,
		Nonce:           nonce(),
		StartTime:       prf.start,
		FingerprintHash: prf.fingerprint.Hash(),
		BaselineHash:    hashJSON(prf.baseline),
	}

	return prf
}

func (prf *Proof) ExecutionID() string {
	return prf.executionID
}

func (prf *Proof) TestName() string {
	return prf.testName
}

func (prf *Proof) SystemFingerprint() Fingerprint {
	return prf.fingerprint
}

func (prf *Proof) Challenge() Challenge {
	return prf.challenge
}

func (prf *Proof) Baseline() ResourceSnapshot {
	return prf.baseline
}

// Begin writes the execution_start artifact and returns a reference to it.
func (prf *Proof) Begin(ctx context.Context) (ArtifactRef, error) {
	return prf.artifact(ctx, PhaseExecutionStart)
}

/*
Measure holds for at least minDuration, then records the resource delta
against the baseline under key. Only MeasureInitial and MeasureTestExecution
are kept in the attestation.
*/
func (prf *Proof) Measure(ctx context.Context, key string, minDuration time.Duration) (Measurement, error) {
	started := time.Now()

	if minDuration > 0 {
		timer := time.NewTimer(minDuration)

		select {
		case <-ctx.Done():
			timer.Stop()
			return Measurement{}, ctx.Err()
		case <-timer.C:
		}
	}

	entropy := prf.cpuEntropy(key)
	final := TakeSnapshot()

	measurement := Measurement{
		Key:             key,
		Duration:        time.Since(started).Seconds(),
		CPUSecondsDelta: final.CPUSeconds - prf.baseline.CPUSeconds,
		HeapDelta:       int64(final.HeapAlloc) - int64(prf.baseline.HeapAlloc),
		GoroutineDelta:  final.Goroutines - prf.baseline.Goroutines,
		GCDelta:         final.NumGC - prf.baseline.NumGC,
		CPUEntropy:      entropy,
		Timestamp:       time.Now(),
		Method:          measurementMethod,
	}

	prf.mu.Lock()
	defer prf.mu.Unlock()

	switch key {
	case MeasureInitial:
		prf.proofs.InitialCheck = &measurement
	case MeasureTestExecution:
		prf.proofs.TestExecution = &measurement
	default:
		return measurement, fmt.Errorf("unknown measurement key %q", key)
	}

	return measurement, nil
}

/*
Verify runs the authenticity checks: at least one measurement with a
positive duration, and a fingerprint that is complete and still hashes to
the value captured in the challenge.
*/
func (prf *Proof) Verify() Authenticity {
	prf.mu.Lock()
	defer prf.mu.Unlock()
	return prf.verify()
}

func (prf *Proof) verify() Authenticity {
	measured := false
	for _, m := range []*Measurement{prf.proofs.InitialCheck, prf.proofs.TestExecution} {
		if m != nil && m.Duration > 0 {
			measured = true
		}
	}

	intact := prf.fingerprint.Intact() && prf.fingerprint.Hash() == prf.challenge.FingerprintHash

	authenticity := Authenticity{
		Checks: []Check{
			{Name: "resource_measurement", Passed: measured},
			{Name: "fingerprint_intact", Passed: intact},
		},
		Authentic:  measured && intact,
		VerifiedAt: time.Now(),
	}

	prf.proofs.Authenticity = &authenticity
	return authenticity
}

/*
Finalize takes a last snapshot, writes the execution_complete artifact and
signs result together with the fingerprint and every measurement.
*/
func (prf *Proof) Finalize(ctx context.Context, result any) (Attestation, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return Attestation{}, fmt.Errorf("encode test result: %w", err)
	}

	final := TakeSnapshot()

	prf.mu.Lock()
	prf.proofs.FinalResources = &final
	prf.mu.Unlock()

	ref, err := prf.artifact(ctx, PhaseExecutionDone)
	if err != nil {
		return Attestation{}, err
	}

	prf.mu.Lock()
	defer prf.mu.Unlock()

	authenticity := prf.verify()
	fingerprint := prf.fingerprint
	signedAt := time.Now()

	payloadHash := hashJSON(struct {
		TestResult      json.RawMessage `json:"test_result"`
		Fingerprint     Fingerprint     `json:"hardware_fingerprint"`
		ExecutionProofs ExecutionProofs `json:"execution_proofs"`
		ExecutionID     string          `json:"execution_id"`
		Timestamp       time.Time       `json:"timestamp"`
	}{encoded, fingerprint, prf.proofs, prf.executionID, signedAt})

	salt := fmt.Sprintf("%s-%s-%s", fingerprint.Machine, fingerprint.Hostname, prf.executionID)

	verdict, completeness := AuthenticityQuestionable, CompletenessRisk
	if authenticity.Authentic {
		verdict, completeness = AuthenticityVerified, CompletenessVerified
	}

	attestation := Attestation{
		ExecutionID: prf.executionID,
		TestResult:  encoded,
		HardwareProofs: &HardwareProofs{
			SystemFingerprint: &fingerprint,
			ExecutionProofs:   prf.proofs,
			PayloadHash:       payloadHash,
			Signature:         hashString(payloadHash + "-" + salt),
			Method:            verificationMethod,
			Authenticity:      verdict,
		},
		Metadata: &Metadata{
			SignedAt: signedAt,
			Version:  signatureVersion,
			Module:   proofModule,
		},
		FinalArtifacts:    &ref,
		ExecutionDuration: time.Since(prf.start).Seconds(),
		ProofCompleteness: completeness,
	}

	log.Debug("execution proof finalized", "test", prf.testName, "execution", prf.executionID, "authenticity", verdict)

	return attestation, nil
}

// ArtifactName is the store key for a phase artifact of this run.
func (prf *Proof) ArtifactName(phase string) string {
	return fmt.Sprintf("%s_%s_hardware_execution_%s.proof", prf.testName, prf.executionID[:8], phase)
}

func (prf *Proof) artifact(ctx context.Context, phase string) (ArtifactRef, error) {
	data := Artifact{
		TestName:          prf.testName,
		ExecutionID:       prf.executionID,
		Phase:             phase,
		Timestamp:         time.Now(),
		SystemFingerprint: prf.fingerprint,
		ResourceSnapshot:  prf.baseline,
		Challenge:         prf.challenge,
		ProofEntropy:      prf.cpuEntropy("artifact_" + phase),
	}

	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("encode %s artifact: %w", phase, err)
	}

	ref := ArtifactRef{Hash: hashJSON(data)}

	if prf.writer == nil {
		return ref, nil
	}

	ref.File = prf.ArtifactName(phase)

	if err := prf.writer.Put(ctx, ref.File, buf); err != nil {
		return ArtifactRef{}, fmt.Errorf("store %s artifact: %w", phase, err)
	}

	return ref, nil
}

func (prf *Proof) cpuEntropy(key string) string {
	start := time.Now()
	accumulator := spin(artifactEntropyRounds)
	elapsed := time.Since(start)

	return hashString(fmt.Sprintf(
		"%s-%s-%d-%d-%s", prf.executionID, key, accumulator, elapsed.Nanoseconds(), prf.challenge.Nonce,
	))
}
