package swarm

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
	"github.com/theapemachine/gridswarm/pkg/agent"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/rules"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.GridSize = 4
	cfg.Rank = 2
	return cfg
}

func spawned(cfg Config) *Manager {
	m, err := NewManager(cfg)
	if err != nil {
		panic(err)
	}

	if _, err := m.Spawn(LayoutFull); err != nil {
		panic(err)
	}

	return m
}

func TestConfigValidate(t *testing.T) {
	Convey("Given the default configuration", t, func() {
		Convey("Then it is valid", func() {
			So(DefaultConfig().Validate(), ShouldBeNil)
		})
	})

	Convey("Given out of range values", t, func() {
		rank := DefaultConfig()
		rank.Rank = 1

		size := DefaultConfig()
		size.GridSize = 0

		halfLife := DefaultConfig()
		halfLife.HalfLife = 0

		Convey("Then validation fails with the config sentinel", func() {
			for _, cfg := range []Config{rank, size, halfLife} {
				err := cfg.Validate()
				So(err, ShouldNotBeNil)
				So(stderrors.Is(err, errors.ErrInvalidConfig), ShouldBeTrue)
			}
		})

		Convey("Then NewManager refuses them", func() {
			_, err := NewManager(rank)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSpawn(t *testing.T) {
	Convey("Given a manager with the default configuration", t, func() {
		m, err := NewManager(DefaultConfig())
		So(err, ShouldBeNil)

		Convey("When nothing has been spawned", func() {
			_, stepErr := m.Step()
			_, metricsErr := m.Metrics()
			_, runErr := m.Run(context.Background(), RunOptions{MaxSteps: 1})

			Convey("Then operations report it", func() {
				So(stderrors.Is(stepErr, errors.ErrNotSpawned), ShouldBeTrue)
				So(stderrors.Is(metricsErr, errors.ErrNotSpawned), ShouldBeTrue)
				So(stderrors.Is(runErr, errors.ErrNotSpawned), ShouldBeTrue)
				So(stderrors.Is(m.InjectPattern("glider", nil, 1), errors.ErrNotSpawned), ShouldBeTrue)
				So(m.View().Size, ShouldEqual, 0)
			})
		})

		Convey("Then each layout places the expected number of agents", func() {
			full, err := m.Spawn(LayoutFull)
			So(err, ShouldBeNil)
			So(full, ShouldEqual, 144)

			scattered, err := m.Spawn(LayoutScattered)
			So(err, ShouldBeNil)
			So(scattered, ShouldEqual, 115)

			strided, err := m.Spawn(LayoutGrid)
			So(err, ShouldBeNil)
			So(strided, ShouldEqual, 36)
			So(m.Agents(), ShouldHaveLength, 36)
		})

		Convey("Then an unknown layout is rejected", func() {
			_, err := m.Spawn("hexagonal")
			So(stderrors.Is(err, errors.ErrUnknownLayout), ShouldBeTrue)
		})
	})
}

func TestInjectPattern(t *testing.T) {
	Convey("Given a spawned swarm", t, func() {
		m := spawned(DefaultConfig())

		Convey("When a glider is injected at the default position", func() {
			So(m.InjectPattern("glider", nil, 1.0), ShouldBeNil)

			Convey("Then the field carries influence", func() {
				So(m.Grid().DeltaNorm(), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When the position is entirely outside the grid", func() {
			So(m.InjectPattern("block", &agent.Position{Row: 40, Col: 40}, 1.0), ShouldBeNil)

			Convey("Then every cell is skipped", func() {
				So(m.Grid().DeltaNorm(), ShouldEqual, 0)
			})
		})

		Convey("When the pattern is unknown", func() {
			err := m.InjectPattern("spaceship", nil, 1.0)

			Convey("Then it is rejected", func() {
				So(stderrors.Is(err, errors.ErrUnknownPattern), ShouldBeTrue)
			})
		})
	})
}

func TestStep(t *testing.T) {
	Convey("Given a small spawned swarm", t, func() {
		m := spawned(smallConfig())
		So(m.InjectPattern("block", &agent.Position{Row: 1, Col: 1}, 1.0), ShouldBeNil)

		step, err := m.Step()

		Convey("Then the step is counted and recorded", func() {
			So(err, ShouldBeNil)
			So(step.Step, ShouldEqual, 0)
			So(step.Agents.Total, ShouldEqual, 16)
			So(m.Steps(), ShouldEqual, 1)
			So(m.History(), ShouldHaveLength, 1)
		})

		Convey("Then the history is bounded", func() {
			for i := 0; i < maxHistory+5; i++ {
				_, err := m.Step()
				So(err, ShouldBeNil)
			}
			So(m.History(), ShouldHaveLength, maxHistory)
		})

		Convey("Then Reset clears everything", func() {
			m.Reset()
			So(m.Steps(), ShouldEqual, 0)
			So(m.History(), ShouldBeEmpty)
			So(m.Grid().DeltaNorm(), ShouldEqual, 0)
			So(m.Evolution().Type, ShouldEqual, rules.EvolutionInsufficient)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a small spawned swarm", t, func() {
		m := spawned(smallConfig())

		Convey("When it runs for a fixed number of steps", func() {
			summary, err := m.Run(context.Background(), RunOptions{MaxSteps: 5})

			Convey("Then the summary reflects them", func() {
				So(err, ShouldBeNil)
				So(summary.Config.StepsCompleted, ShouldEqual, 5)
				So(summary.Config.AgentCount, ShouldEqual, 16)
				So(summary.Performance.CompressionRatio, ShouldBeGreaterThan, 0)
				So(m.Running(), ShouldBeFalse)
			})
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			summary, err := m.Run(ctx, RunOptions{MaxSteps: 100})

			Convey("Then no step is taken", func() {
				So(err, ShouldBeNil)
				So(summary.Config.StepsCompleted, ShouldEqual, 0)
			})
		})

		Convey("When it is shut down mid-run", func() {
			done := make(chan Summary, 1)

			go func() {
				summary, _ := m.Run(context.Background(), RunOptions{Duration: time.Hour, Realtime: true})
				done <- summary
			}()

			for !m.Running() {
				time.Sleep(time.Millisecond)
			}

			_, metricsErr := m.Metrics()
			view := m.View()
			m.Shutdown()

			Convey("Then the run returns and readers were served", func() {
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					t.Fatal("run did not stop after shutdown")
				}

				So(metricsErr, ShouldBeNil)
				So(view.Size, ShouldEqual, 4)
				So(view.Active, ShouldHaveLength, 4)
			})
		})
	})
}

func TestExport(t *testing.T) {
	Convey("Given a swarm that has stepped", t, func() {
		m := spawned(smallConfig())
		_, _ = m.Step()
		_, _ = m.Step()

		Convey("When it is exported", func() {
			buf := &bytes.Buffer{}
			So(m.Export(buf), ShouldBeNil)

			var data map[string]any
			So(json.Unmarshal(buf.Bytes(), &data), ShouldBeNil)

			Convey("Then the record holds the history", func() {
				So(data["total_steps"], ShouldEqual, 2.0)
				So(data["complete_metrics_history"], ShouldHaveLength, 2)
				So(data, ShouldContainKey, "compression_analysis")
			})
		})

		Convey("When it is exported to a file", func() {
			path := filepath.Join(t.TempDir(), "experiment.json")
			So(m.ExportFile(path), ShouldBeNil)

			_, err := os.Stat(path)
			So(err, ShouldBeNil)
		})
	})
}

func TestExperimentRunner(t *testing.T) {
	Convey("Given a runner over a small swarm", t, func() {
		m := spawned(smallConfig())
		runner := NewExperimentRunner(m)

		trials, err := runner.RunSeries(
			context.Background(), []string{"block", "blinker"}, 2, 10*time.Millisecond,
		)

		Convey("Then every repetition is recorded", func() {
			So(err, ShouldBeNil)
			So(trials, ShouldHaveLength, 4)
			So(trials[0].Pattern, ShouldEqual, "block")
			So(trials[3].Number, ShouldEqual, 2)
		})

		Convey("Then the report aggregates them", func() {
			report := runner.Report()
			So(report.Total, ShouldEqual, 4)
			So(report.PatternSuccess, ShouldContainKey, "blinker")
			So(report.Recommendation[0], ShouldContainSubstring, "sample size")
			So(report.Network, ShouldEqual, "4x4 von Neumann grid")

			path := filepath.Join(t.TempDir(), "report.json")
			So(runner.WriteReport(path), ShouldBeNil)
		})

		Convey("Then unknown patterns stop the series", func() {
			_, err := runner.RunSeries(context.Background(), []string{"spaceship"}, 1, time.Millisecond)
			So(stderrors.Is(err, errors.ErrUnknownPattern), ShouldBeTrue)
		})
	})
}

func TestAnalyzeEmergence(t *testing.T) {
	Convey("Given a summary that meets two criteria", t, func() {
		summary := Summary{
			Performance: Performance{PeakActivation: 0.5},
			Evolution:   rules.Evolution{Type: rules.EvolutionTraveling, Stability: 0.9},
		}

		emerged, met := analyzeEmergence(summary)

		Convey("Then emergence is reported", func() {
			So(emerged, ShouldBeTrue)
			So(met, ShouldResemble, []string{"activation_peak", "traveling_pattern"})
		})
	})

	Convey("Given a quiet summary", t, func() {
		emerged, _ := analyzeEmergence(Summary{Evolution: rules.Evolution{Type: rules.EvolutionInsufficient}})

		Convey("Then nothing emerged", func() {
			So(emerged, ShouldBeFalse)
		})
	})
}
