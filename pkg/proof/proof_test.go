package proof

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type memoryWriter struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{blobs: map[string][]byte{}}
}

func (writer *memoryWriter) Put(_ context.Context, name string, data []byte) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	writer.blobs[name] = data
	return nil
}

func (writer *memoryWriter) names() []string {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	out := make([]string, 0, len(writer.blobs))
	for name := range writer.blobs {
		out = append(out, name)
	}
	sort.Strings(out)

	return out
}

func TestFingerprint(t *testing.T) {
	Convey("Given a fresh fingerprint", t, func() {
		fingerprint := NewFingerprint()

		Convey("Then it is intact and hashes stably", func() {
			So(fingerprint.Intact(), ShouldBeTrue)
			So(fingerprint.Hash(), ShouldEqual, fingerprint.Hash())
			So(fingerprint.Hash(), ShouldHaveLength, 64)
		})

		Convey("Then damage is detected", func() {
			fingerprint.TimingEntropy = "short"
			So(fingerprint.Intact(), ShouldBeFalse)
		})
	})

	Convey("Given a resource snapshot", t, func() {
		snapshot := TakeSnapshot()

		Convey("Then runtime fields are filled", func() {
			So(snapshot.Goroutines, ShouldBeGreaterThan, 0)
			So(snapshot.Sys, ShouldBeGreaterThan, 0)
			So(snapshot.Timestamp.IsZero(), ShouldBeFalse)
		})
	})
}

func TestProof(t *testing.T) {
	Convey("Given a proof with a writer", t, func() {
		writer := newMemoryWriter()
		prf := New("compression", WithWriter(writer))
		ctx := context.Background()

		Convey("Then the challenge binds the fingerprint", func() {
			challenge := prf.Challenge()
			So(challenge.ExecutionID, ShouldEqual, prf.ExecutionID())
			So(challenge.FingerprintHash, ShouldEqual, prf.SystemFingerprint().Hash())
			So(challenge.Nonce, ShouldHaveLength, 64)
		})

		Convey("When it is finalized without a measurement", func() {
			attestation, err := prf.Finalize(ctx, map[string]any{"gate_passed": true})
			So(err, ShouldBeNil)

			Convey("Then it is questionable", func() {
				So(attestation.Authentic(), ShouldEqual, AuthenticityQuestionable)
				So(attestation.ProofCompleteness, ShouldEqual, CompletenessRisk)
			})
		})

		Convey("When the full sequence runs", func() {
			start, err := prf.Begin(ctx)
			So(err, ShouldBeNil)

			measurement, err := prf.Measure(ctx, MeasureTestExecution, 5*time.Millisecond)
			So(err, ShouldBeNil)

			attestation, err := prf.Finalize(ctx, map[string]any{"gate_passed": true, "ratio": 360})
			So(err, ShouldBeNil)

			Convey("Then the measurement covers the window", func() {
				So(measurement.Duration, ShouldBeGreaterThanOrEqualTo, 0.005)
				So(measurement.CPUEntropy, ShouldHaveLength, 64)
			})

			Convey("Then the attestation is verified and signed", func() {
				So(attestation.Authentic(), ShouldEqual, AuthenticityVerified)
				So(attestation.ProofCompleteness, ShouldEqual, CompletenessVerified)
				So(attestation.HardwareProofs.Signature, ShouldHaveLength, 64)
				So(attestation.HardwareProofs.ExecutionProofs.TestExecution, ShouldNotBeNil)
				So(attestation.HardwareProofs.ExecutionProofs.Authenticity.Authentic, ShouldBeTrue)
				So(attestation.ExecutionDuration, ShouldBeGreaterThan, 0)

				passed, ok := attestation.Passed()
				So(ok, ShouldBeTrue)
				So(passed, ShouldBeTrue)
			})

			Convey("Then both phase artifacts are stored", func() {
				names := writer.names()
				So(names, ShouldHaveLength, 2)
				So(start.File, ShouldEqual, prf.ArtifactName(PhaseExecutionStart))
				So(attestation.FinalArtifacts.File, ShouldEqual, prf.ArtifactName(PhaseExecutionDone))
				So(names[0], ShouldContainSubstring, "compression_")
				So(names[0], ShouldEndWith, "_hardware_execution_execution_complete.proof")

				var artifact Artifact
				So(json.Unmarshal(writer.blobs[start.File], &artifact), ShouldBeNil)
				So(artifact.Phase, ShouldEqual, PhaseExecutionStart)
				So(artifact.ExecutionID, ShouldEqual, prf.ExecutionID())
			})

			Convey("Then the attestation survives a round trip", func() {
				buf, err := json.Marshal(attestation)
				So(err, ShouldBeNil)

				var decoded Attestation
				So(json.Unmarshal(buf, &decoded), ShouldBeNil)
				So(decoded.Authentic(), ShouldEqual, AuthenticityVerified)
				So(decoded.Fingerprint().CPUCount, ShouldEqual, prf.SystemFingerprint().CPUCount)
			})
		})

		Convey("When the fingerprint is altered after the challenge", func() {
			prf.fingerprint.Hostname = "elsewhere"
			_, _ = prf.Measure(ctx, MeasureInitial, time.Millisecond)

			Convey("Then verification fails", func() {
				authenticity := prf.Verify()
				So(authenticity.Authentic, ShouldBeFalse)
				So(authenticity.Checks[0].Passed, ShouldBeTrue)
				So(authenticity.Checks[1].Passed, ShouldBeFalse)
			})
		})

		Convey("Then unknown measurement keys are reported", func() {
			_, err := prf.Measure(ctx, "warmup", 0)
			So(err, ShouldNotBeNil)
		})

		Convey("Then a cancelled measurement returns the context error", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := prf.Measure(cancelled, MeasureInitial, time.Hour)
			So(err, ShouldEqual, context.Canceled)
		})
	})
}

func TestRecorder(t *testing.T) {
	Convey("Given a recorder that has not started", t, func() {
		recorder := NewRecorder("run-1", "compression", map[string]any{"ranks": []int{2, 4}})

		Convey("Then recording is refused", func() {
			_, err := recorder.RecordMetrics("early", nil)
			So(err, ShouldNotBeNil)

			_, err = recorder.WriteArtifact(context.Background(), "x.json", 1)
			So(err, ShouldNotBeNil)
		})

		Convey("Then the chain starts fresh", func() {
			So(recorder.VerifyChain(), ShouldEqual, "first_gate")
		})
	})

	Convey("Given a started recorder", t, func() {
		writer := newMemoryWriter()
		ctx := context.Background()
		recorder := NewRecorder("run-2", "decay", nil, WithRecorderWriter(writer))

		run, err := recorder.StartRun(ctx)
		So(err, ShouldBeNil)

		Convey("Then it cannot start twice", func() {
			_, err := recorder.StartRun(ctx)
			So(err, ShouldNotBeNil)
			So(run.ExecutionID, ShouldEqual, recorder.ExecutionID())
		})

		Convey("Then signatures chain onto each other", func() {
			before := recorder.Signatures()
			first := recorder.Sign("a")
			second := recorder.Sign("b")

			So(first, ShouldEqual, chainSignature(before[len(before)-1], hashJSON("a"), recorder.ExecutionID()))
			So(second, ShouldEqual, chainSignature(first, hashJSON("b"), recorder.ExecutionID()))
		})

		Convey("When the run is finalized", func() {
			_, err := recorder.Proof().Measure(ctx, MeasureInitial, time.Millisecond)
			So(err, ShouldBeNil)

			_, err = recorder.RecordMetrics("midpoint", map[string]any{"step": 10})
			So(err, ShouldBeNil)

			_, err = recorder.RequireSustained(ctx, 2*time.Millisecond)
			So(err, ShouldBeNil)

			attestation, err := recorder.FinalizeRun(ctx, true, map[string]float64{"ratio": 0.5})
			So(err, ShouldBeNil)

			Convey("Then the evidence is complete and linked", func() {
				So(attestation.Authentic(), ShouldEqual, AuthenticityVerified)
				So(attestation.ValidationChain.Validation, ShouldEqual, "first_gate")
				So(attestation.ValidationChain.Current, ShouldEqual, attestation.HardwareProofs.Signature)

				var evidence Evidence
				So(json.Unmarshal(attestation.TestResult, &evidence), ShouldBeNil)
				So(evidence.Verdict, ShouldEqual, "PASS")
				So(evidence.Completeness, ShouldEqual, CompletenessPartial)
				So(evidence.Metrics, ShouldHaveLength, 3)
			})

			Convey("Then run artifacts are stored under the run id", func() {
				var runFiles []string
				for _, name := range writer.names() {
					if strings.HasPrefix(name, "run-2/") {
						runFiles = append(runFiles, name)
					}
				}

				So(runFiles, ShouldResemble, []string{"run-2/decay_complete.json", "run-2/decay_initial.json"})
			})
		})
	})

	Convey("Given a recorder linked to an earlier gate", t, func() {
		valid := NewRecorder("run-3", "glider", nil, WithPrevious(hashString("gate 2")))
		invalid := NewRecorder("run-4", "glider", nil, WithPrevious("not-a-digest"))

		Convey("Then the link is checked", func() {
			So(valid.VerifyChain(), ShouldEqual, "chain_valid")
			So(invalid.VerifyChain(), ShouldEqual, "chain_invalid")
		})
	})
}
