package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/gate"
	"github.com/theapemachine/gridswarm/pkg/proof"
)

func verifiedStore(t *testing.T, ids ...int) *checkpoint.Loader {
	t.Helper()

	cfg := gate.DefaultConfig()
	cfg.MinMeasure = 5 * time.Millisecond

	store := checkpoint.NewFileStore(t.TempDir())

	if _, err := gate.NewRunner(store, cfg).RunAll(context.Background(), ids); err != nil {
		t.Fatalf("running gates: %v", err)
	}

	return checkpoint.NewLoader(store)
}

func TestExtractor(t *testing.T) {
	Convey("Given verified checkpoints for gates 1 and 4", t, func() {
		ctx := context.Background()
		extractor := NewExtractor(verifiedStore(t, 1, 4))

		Convey("Then gate metrics come from the checkpoint", func() {
			metrics := extractor.GateMetrics(ctx, 1)

			So(metrics.Available(), ShouldBeTrue)
			So(metrics.GateName, ShouldEqual, "Compression Validation")
			So(metrics.Passed, ShouldBeTrue)
			So(metrics.ExecutionTime, ShouldBeGreaterThan, 0)
			So(metrics.Authenticity, ShouldEqual, proof.AuthenticityVerified)
			So(metrics.Timestamp, ShouldNotBeNil)
			So(metrics.FingerprintHash, ShouldHaveLength, 16)
			So(metrics.Goroutines, ShouldBeGreaterThan, 0)

			var result gate.Result
			So(json.Unmarshal(metrics.Results, &result), ShouldBeNil)
			So(result.Measured, ShouldEqual, 360.0)
		})

		Convey("Then a missing gate yields empty metrics", func() {
			metrics := extractor.GateMetrics(ctx, 3)

			So(metrics.Available(), ShouldBeFalse)
			So(metrics.Passed, ShouldBeFalse)
			So(metrics.ProofCompleteness, ShouldEqual, noProofs)
			So(metrics.Timestamp, ShouldBeNil)
		})

		Convey("Then proof chains pair start and complete artifacts", func() {
			chain := extractor.ProofChainMetrics(ctx, 4)

			So(chain.Available, ShouldBeTrue)
			So(chain.TotalProofs, ShouldEqual, 2)
			So(chain.StartProofs, ShouldEqual, 1)
			So(chain.CompleteProofs, ShouldEqual, 1)
			So(chain.Spans, ShouldHaveLength, 1)
			So(chain.Spans[0].Seconds, ShouldBeGreaterThan, 0)
			So(chain.Earliest.Before(*chain.Latest), ShouldBeTrue)

			So(extractor.ProofChainMetrics(ctx, 5).Available, ShouldBeFalse)
		})

		Convey("Then the bundle summarizes every requested gate", func() {
			bundle := extractor.Bundle(ctx, []int{1, 4, 5})

			So(bundle.Comparison, ShouldHaveLength, 3)
			So(bundle.Summary.TotalGates, ShouldEqual, 3)
			So(bundle.Summary.PassedGates, ShouldEqual, 2)
			So(bundle.Summary.HardwareVerified, ShouldEqual, 2)
			So(bundle.Summary.MinTime, ShouldBeLessThanOrEqualTo, bundle.Summary.MaxTime)
			So(bundle.Comparison[0].Results, ShouldBeNil)
		})
	})
}

func TestMetricsFollowLatestRun(t *testing.T) {
	Convey("Given a gate with proof artifacts from an older, heavier run", t, func() {
		ctx := context.Background()
		dir := t.TempDir()

		cfg := gate.DefaultConfig()
		cfg.MinMeasure = 5 * time.Millisecond
		store := checkpoint.NewFileStore(dir)

		stale := proof.Artifact{
			TestName:    "decay",
			ExecutionID: "00000000-stale-run",
			Phase:       "start",
			Timestamp:   time.Now().Add(-time.Hour),
			ResourceSnapshot: proof.ResourceSnapshot{
				Goroutines:     100000,
				CPUSeconds:     1e6,
				ResidentMemory: 1 << 40,
			},
		}

		buf, err := json.Marshal(stale)
		So(err, ShouldBeNil)
		So(store.Put(ctx, "decay_00000000_hardware_execution_start.proof", buf), ShouldBeNil)

		attestations, err := gate.NewRunner(store, cfg).RunAll(ctx, []int{4})
		So(err, ShouldBeNil)

		extractor := NewExtractor(checkpoint.NewLoader(store))

		Convey("Then resource peaks come only from the checkpointed execution", func() {
			So(attestations[4].ExecutionID, ShouldNotBeEmpty)

			metrics := extractor.GateMetrics(ctx, 4)
			So(metrics.Goroutines, ShouldBeGreaterThan, 0)
			So(metrics.Goroutines, ShouldBeLessThan, 100000)
			So(metrics.CPUSeconds, ShouldBeLessThan, 1e6)
			So(metrics.MemoryMB, ShouldBeLessThan, float64(1<<40)/bytesPerMB)

			So(extractor.ProofChainMetrics(ctx, 4).TotalProofs, ShouldEqual, 3)
		})
	})

	Convey("Given artifacts of two executions and no execution id", t, func() {
		now := time.Now()
		chain := []proof.Artifact{
			{ExecutionID: "old", Timestamp: now.Add(-time.Minute)},
			{ExecutionID: "new", Timestamp: now},
			{ExecutionID: "old", Timestamp: now.Add(-2 * time.Minute)},
		}

		Convey("Then the most recent execution is used", func() {
			run := runArtifacts(chain, "")
			So(run, ShouldHaveLength, 1)
			So(run[0].ExecutionID, ShouldEqual, "new")
			So(runArtifacts(chain, "old"), ShouldHaveLength, 2)
		})
	})
}

func TestRender(t *testing.T) {
	Convey("Given a bundle", t, func() {
		bundle := NewExtractor(verifiedStore(t, 4)).Bundle(context.Background(), []int{4, 5})

		Convey("Then the HTML page carries the table and charts", func() {
			var buf bytes.Buffer
			So(RenderHTML(&buf, bundle), ShouldBeNil)

			html := buf.String()
			So(html, ShouldContainSubstring, "Half-Life Decay Validation")
			So(html, ShouldContainSubstring, "<svg")
			So(html, ShouldContainSubstring, passColor)
			So(html, ShouldContainSubstring, "no proof files available")
		})

		Convey("Then the terminal table lists each gate", func() {
			out := RenderTerminal(bundle)

			So(out, ShouldContainSubstring, "144-Agent Stability Validation")
			So(out, ShouldContainSubstring, "PASS")
			So(out, ShouldContainSubstring, notAvailable)
		})
	})

	Convey("Given bar values", t, func() {
		c := barChart("t", []float64{1, 2}, []string{"a", "b"}, []string{"x", "y"}, "%.0f")

		Convey("Then the tallest bar fills the plot", func() {
			So(c.Bars, ShouldHaveLength, 2)
			So(c.Bars[1].Height, ShouldEqual, chartHeight-2*chartMargin)
			So(c.Bars[0].Height, ShouldEqual, (chartHeight-2*chartMargin)/2)
		})
	})
}

func TestGenerator(t *testing.T) {
	Convey("Given verified checkpoints", t, func() {
		ctx := context.Background()
		output := t.TempDir()
		generator := NewGenerator(verifiedStore(t, 1, 4), output)

		Convey("When every available gate is generated", func() {
			manifest, err := generator.GenerateAll(ctx, nil)
			So(err, ShouldBeNil)

			Convey("Then the report files are written", func() {
				So(manifest.GateIDs, ShouldResemble, []int{1, 4})
				So(manifest.Integrity[1].Valid, ShouldBeTrue)

				for _, name := range []string{HTMLFile, MetricsFile, ManifestFile} {
					_, err := os.Stat(filepath.Join(output, name))
					So(err, ShouldBeNil)
				}
			})
		})

		Convey("When a requested gate is missing", func() {
			_, err := generator.GenerateAll(ctx, []int{1, 2})

			Convey("Then nothing is written", func() {
				So(stderrors.Is(err, errors.ErrIntegrity), ShouldBeTrue)

				_, statErr := os.Stat(filepath.Join(output, HTMLFile))
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})
	})

	Convey("Given an empty checkpoint store", t, func() {
		generator := NewGenerator(checkpoint.NewLoader(checkpoint.NewFileStore(t.TempDir())), t.TempDir())

		_, err := generator.GenerateAll(context.Background(), nil)
		So(stderrors.Is(err, errors.ErrCheckpointNotFound), ShouldBeTrue)
	})
}
