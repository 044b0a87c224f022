/*
Package dashboard turns verified gate checkpoints into metrics and renders
them as an HTML report or a terminal table. It only reads what the gate
runner stored and never fills gaps with invented numbers.
*/
package dashboard

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/proof"
)

const (
	notAvailable = "NOT_AVAILABLE"
	noProofs     = "NO_PROOFS"
	bytesPerMB   = 1024 * 1024
)

var displayNames = map[int]string{
	0: "Baseline Parallelism Validation",
	1: "Compression Validation",
	2: "Wave Propagation Validation",
	3: "Glider Emergence Validation",
	4: "Half-Life Decay Validation",
	5: "144-Agent Stability Validation",
}

func DisplayName(id int) string {
	if name, ok := displayNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Gate %d", id)
}

// GateMetrics is everything the dashboard shows about one gate.
type GateMetrics struct {
	GateID            int             `json:"gate_id"`
	GateName          string          `json:"gate_name"`
	Passed            bool            `json:"passed"`
	ExecutionTime     float64         `json:"execution_time_seconds"`
	CPUSeconds        float64         `json:"cpu_seconds"`
	MemoryMB          float64         `json:"memory_usage_mb"`
	Goroutines        int             `json:"goroutine_count"`
	Authenticity      string          `json:"authenticity"`
	ProofCompleteness string          `json:"proof_completeness"`
	Timestamp         *time.Time      `json:"timestamp"`
	FingerprintHash   string          `json:"system_fingerprint_hash"`
	Results           json.RawMessage `json:"results,omitempty"`
}

// Available reports whether the metrics came from a real checkpoint.
func (metrics GateMetrics) Available() bool {
	return metrics.Authenticity != notAvailable
}

type Span struct {
	ExecutionID string    `json:"execution_id"`
	Start       time.Time `json:"start_timestamp"`
	Complete    time.Time `json:"complete_timestamp"`
	Seconds     float64   `json:"seconds"`
}

type ProofChainMetrics struct {
	Available      bool       `json:"available"`
	TotalProofs    int        `json:"total_proofs"`
	Executions     int        `json:"executions_found"`
	StartProofs    int        `json:"start_proofs"`
	CompleteProofs int        `json:"complete_proofs"`
	Earliest       *time.Time `json:"earliest_timestamp"`
	Latest         *time.Time `json:"latest_timestamp"`
	Spans          []Span     `json:"execution_spans"`
}

type Summary struct {
	TotalGates         int     `json:"total_gates"`
	PassedGates        int     `json:"passed_gates"`
	TotalExecutionTime float64 `json:"total_execution_time"`
	AverageTime        float64 `json:"average_execution_time"`
	MaxTime            float64 `json:"max_execution_time"`
	MinTime            float64 `json:"min_execution_time"`
	TotalCPUSeconds    float64 `json:"total_cpu_seconds"`
	MaxMemoryMB        float64 `json:"max_memory_usage_mb"`
	HardwareVerified   int     `json:"hardware_verified_count"`
	Questionable       int     `json:"questionable_count"`
}

type Bundle struct {
	GateIDs     []int                     `json:"gate_ids"`
	Gates       map[int]GateMetrics       `json:"individual_metrics"`
	Comparison  []GateMetrics             `json:"comparison_data"`
	ProofChains map[int]ProofChainMetrics `json:"proof_chain_analyses"`
	Summary     Summary                   `json:"summary_stats"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Extractor reads metrics through a checkpoint loader.
type Extractor struct {
	loader *checkpoint.Loader
}

func NewExtractor(loader *checkpoint.Loader) *Extractor {
	return &Extractor{loader: loader}
}

/*
GateMetrics returns the metrics for gate id. A gate without a readable
checkpoint yields empty metrics marked NOT_AVAILABLE.
*/
func (extractor *Extractor) GateMetrics(ctx context.Context, id int) GateMetrics {
	attestation, err := extractor.loader.LoadGateResult(ctx, id)
	if err != nil {
		if !stderrors.Is(err, errors.ErrCheckpointNotFound) {
			log.Warn("unreadable gate checkpoint", "gate", id, "error", err)
		}
		return emptyMetrics(id)
	}

	metrics := GateMetrics{
		GateID:            id,
		GateName:          DisplayName(id),
		ExecutionTime:     attestation.ExecutionDuration,
		Authenticity:      attestation.Authentic(),
		ProofCompleteness: attestation.ProofCompleteness,
		FingerprintHash:   "unknown",
	}

	metrics.Passed, _ = attestation.Passed()

	if ts, ok := extractor.loader.Timestamp(attestation); ok {
		metrics.Timestamp = &ts
	}

	if fingerprint := attestation.Fingerprint(); fingerprint != nil {
		metrics.FingerprintHash = fingerprint.Hash()[:16]
	}

	var evidence struct {
		Results json.RawMessage `json:"results"`
	}

	if err := json.Unmarshal(attestation.TestResult, &evidence); err == nil && len(evidence.Results) > 0 {
		metrics.Results = evidence.Results
	}

	if chain, err := extractor.loader.LoadProofChain(ctx, id); err == nil {
		for _, artifact := range runArtifacts(chain, attestation.ExecutionID) {
			snapshot := artifact.ResourceSnapshot
			metrics.CPUSeconds = math.Max(metrics.CPUSeconds, snapshot.CPUSeconds)
			metrics.MemoryMB = math.Max(metrics.MemoryMB, float64(snapshot.ResidentMemory)/bytesPerMB)
			metrics.Goroutines = max(metrics.Goroutines, snapshot.Goroutines)
		}
	}

	return metrics
}

/*
runArtifacts keeps the artifacts of one execution. Checkpoints that do not
name their execution fall back to the most recent one in the chain.
*/
func runArtifacts(chain []proof.Artifact, executionID string) []proof.Artifact {
	if executionID == "" {
		var latest time.Time

		for _, artifact := range chain {
			if artifact.Timestamp.After(latest) {
				latest = artifact.Timestamp
				executionID = artifact.ExecutionID
			}
		}
	}

	out := make([]proof.Artifact, 0, 2)

	for _, artifact := range chain {
		if artifact.ExecutionID == executionID {
			out = append(out, artifact)
		}
	}

	return out
}

func emptyMetrics(id int) GateMetrics {
	return GateMetrics{
		GateID:            id,
		GateName:          DisplayName(id),
		Authenticity:      notAvailable,
		ProofCompleteness: noProofs,
		FingerprintHash:   "unknown",
	}
}

// Comparison returns one row per gate, in the order given.
func (extractor *Extractor) Comparison(ctx context.Context, ids []int) []GateMetrics {
	rows := make([]GateMetrics, 0, len(ids))

	for _, id := range ids {
		metrics := extractor.GateMetrics(ctx, id)
		metrics.Results = nil
		rows = append(rows, metrics)
	}

	return rows
}

/*
ProofChainMetrics counts the proof artifacts of gate id and pairs start and
complete artifacts of the same execution into spans.
*/
func (extractor *Extractor) ProofChainMetrics(ctx context.Context, id int) ProofChainMetrics {
	chain, err := extractor.loader.LoadProofChain(ctx, id)
	if err != nil {
		return ProofChainMetrics{}
	}

	metrics := ProofChainMetrics{
		Available:   true,
		TotalProofs: len(chain),
		Spans:       []Span{},
	}

	starts := map[string]time.Time{}
	completes := map[string]time.Time{}

	for _, artifact := range chain {
		if strings.Contains(artifact.Phase, "execution") {
			metrics.Executions++
		}

		switch {
		case strings.Contains(artifact.Phase, "start"):
			metrics.StartProofs++
			starts[artifact.ExecutionID] = artifact.Timestamp
		case strings.Contains(artifact.Phase, "complete"):
			metrics.CompleteProofs++
			completes[artifact.ExecutionID] = artifact.Timestamp
		}

		if ts := artifact.Timestamp; !ts.IsZero() {
			if metrics.Earliest == nil || ts.Before(*metrics.Earliest) {
				metrics.Earliest = &ts
			}

			if metrics.Latest == nil || ts.After(*metrics.Latest) {
				metrics.Latest = &ts
			}
		}
	}

	for id, start := range starts {
		complete, ok := completes[id]
		if !ok || start.IsZero() || complete.IsZero() {
			continue
		}

		metrics.Spans = append(metrics.Spans, Span{
			ExecutionID: id,
			Start:       start,
			Complete:    complete,
			Seconds:     complete.Sub(start).Seconds(),
		})
	}

	sort.Slice(metrics.Spans, func(i, j int) bool {
		return metrics.Spans[i].Start.Before(metrics.Spans[j].Start)
	})

	return metrics
}

// Bundle collects everything the renderers need for the given gates.
func (extractor *Extractor) Bundle(ctx context.Context, ids []int) Bundle {
	bundle := Bundle{
		GateIDs:     ids,
		Gates:       make(map[int]GateMetrics, len(ids)),
		ProofChains: make(map[int]ProofChainMetrics, len(ids)),
		GeneratedAt: time.Now(),
	}

	for _, id := range ids {
		bundle.Gates[id] = extractor.GateMetrics(ctx, id)
		bundle.ProofChains[id] = extractor.ProofChainMetrics(ctx, id)
	}

	bundle.Comparison = make([]GateMetrics, 0, len(ids))
	for _, id := range ids {
		row := bundle.Gates[id]
		row.Results = nil
		bundle.Comparison = append(bundle.Comparison, row)
	}

	bundle.Summary = summarize(bundle.Comparison)

	return bundle
}

func summarize(rows []GateMetrics) Summary {
	summary := Summary{TotalGates: len(rows)}
	var times []float64

	for _, row := range rows {
		if row.Passed {
			summary.PassedGates++
		}

		summary.TotalExecutionTime += row.ExecutionTime
		summary.TotalCPUSeconds += row.CPUSeconds
		summary.MaxMemoryMB = math.Max(summary.MaxMemoryMB, row.MemoryMB)

		switch row.Authenticity {
		case proof.AuthenticityVerified:
			summary.HardwareVerified++
		case proof.AuthenticityQuestionable:
			summary.Questionable++
		}

		if row.ExecutionTime > 0 {
			times = append(times, row.ExecutionTime)
		}
	}

	if summary.TotalGates > 0 {
		summary.AverageTime = summary.TotalExecutionTime / float64(summary.TotalGates)
	}

	if len(times) > 0 {
		summary.MinTime, summary.MaxTime = times[0], times[0]
		for _, t := range times[1:] {
			summary.MinTime = math.Min(summary.MinTime, t)
			summary.MaxTime = math.Max(summary.MaxTime, t)
		}
	}

	return summary
}
