package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

const (
	HTMLFile         = "dashboard.html"
	MetricsFile      = "metrics.json"
	ManifestFile     = "manifest.json"
	generatorVersion = "1.0.0"
)

type Integrity struct {
	Valid        bool   `json:"valid"`
	Authenticity string `json:"authenticity,omitempty"`
	Completeness string `json:"completeness,omitempty"`
	GatePassed   bool   `json:"gate_passed"`
	Error        string `json:"error,omitempty"`
}

type SystemInfo struct {
	Platform         string `json:"platform"`
	GoVersion        string `json:"go_version"`
	WorkingDirectory string `json:"working_directory"`
}

type Manifest struct {
	GeneratedAt      time.Time         `json:"generation_timestamp"`
	GeneratorVersion string            `json:"generator_version"`
	System           SystemInfo        `json:"system_info"`
	GateIDs          []int             `json:"gate_ids"`
	OutputDir        string            `json:"output_directory"`
	Integrity        map[int]Integrity `json:"integrity_status"`
	Artifacts        []string          `json:"generated_artifacts"`
	Summary          Summary           `json:"summary_stats"`
}

/*
Generator runs the full pipeline: integrity validation, metrics extraction
and writing the report files into an output directory.
*/
type Generator struct {
	loader    *checkpoint.Loader
	extractor *Extractor
	output    *checkpoint.FileStore
}

func NewGenerator(loader *checkpoint.Loader, outputDir string) *Generator {
	return &Generator{
		loader:    loader,
		extractor: NewExtractor(loader),
		output:    checkpoint.NewFileStore(outputDir),
	}
}

func (generator *Generator) Extractor() *Extractor {
	return generator.extractor
}

/*
ValidateIntegrity loads and verifies every gate. The map always holds an
entry per id; the boolean is false when any gate is missing or invalid.
*/
func (generator *Generator) ValidateIntegrity(ctx context.Context, ids []int) (map[int]Integrity, bool) {
	results := make(map[int]Integrity, len(ids))
	valid := true

	for _, id := range ids {
		attestation, err := generator.loader.LoadGateResult(ctx, id)
		if err != nil {
			results[id] = Integrity{Error: err.Error()}
			valid = false
			log.Error("gate has no usable checkpoint", "gate", id, "error", err)
			continue
		}

		integrity := Integrity{
			Valid:        generator.loader.VerifyIntegrity(attestation),
			Authenticity: attestation.Authentic(),
			Completeness: attestation.ProofCompleteness,
		}
		integrity.GatePassed, _ = attestation.Passed()

		if !integrity.Valid {
			valid = false
			log.Error("gate integrity check failed", "gate", id)
		} else {
			log.Info("gate verified", "gate", id, "authenticity", integrity.Authenticity, "completeness", integrity.Completeness)
		}

		results[id] = integrity
	}

	return results, valid
}

/*
GenerateAll writes dashboard.html, metrics.json and manifest.json for the
given gates, or for every available gate when ids is empty. Nothing is
written unless every gate passes integrity validation.
*/
func (generator *Generator) GenerateAll(ctx context.Context, ids []int) (Manifest, error) {
	if len(ids) == 0 {
		ids = generator.loader.AvailableGates(ctx)
		if len(ids) == 0 {
			return Manifest{}, errors.ErrCheckpointNotFound.WithMessagef("no verified gates to visualize")
		}
	}

	integrity, valid := generator.ValidateIntegrity(ctx, ids)
	if !valid {
		return Manifest{}, errors.ErrIntegrity.WithMessagef(
			"integrity validation failed for gates %v", ids,
		).WithData(integrity)
	}

	bundle := generator.extractor.Bundle(ctx, ids)

	var html bytes.Buffer
	if err := RenderHTML(&html, bundle); err != nil {
		return Manifest{}, err
	}

	metricsJSON, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return Manifest{}, err
	}

	for name, data := range map[string][]byte{HTMLFile: html.Bytes(), MetricsFile: metricsJSON} {
		if err := generator.output.Put(ctx, name, data); err != nil {
			return Manifest{}, err
		}
	}

	wd, _ := os.Getwd()

	manifest := Manifest{
		GeneratedAt:      time.Now(),
		GeneratorVersion: generatorVersion,
		System: SystemInfo{
			Platform:         runtime.GOOS + "/" + runtime.GOARCH,
			GoVersion:        runtime.Version(),
			WorkingDirectory: wd,
		},
		GateIDs:   ids,
		OutputDir: generator.output.Dir,
		Integrity: integrity,
		Artifacts: []string{HTMLFile, MetricsFile},
		Summary:   bundle.Summary,
	}

	buf, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, err
	}

	if err := generator.output.Put(ctx, ManifestFile, buf); err != nil {
		return Manifest{}, err
	}

	log.Info("dashboard generated", "gates", ids, "output", generator.output.Dir)

	return manifest, nil
}
