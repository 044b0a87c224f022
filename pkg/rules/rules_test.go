package rules

import (
	stderrors "errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/gridswarm/pkg/agent"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/grid"
)

func fullSwarm(size int) (*grid.Grid, []*agent.Floating) {
	g, err := grid.New(grid.WithSize(size))
	if err != nil {
		panic(err)
	}

	agents, err := agent.Full(g)
	if err != nil {
		panic(err)
	}

	return g, agents
}

func activate(agents []*agent.Floating, size int, offsets []agent.Position, row, col int) {
	for _, o := range offsets {
		agents[(row+o.Row)*size+col+o.Col].SetActive(true)
	}
}

func TestNextState(t *testing.T) {
	Convey("Given the default rules", t, func() {
		conway := NewConway(DefaultParams())

		Convey("Then live cells survive on two or three neighbours", func() {
			So(conway.NextState(true, 1), ShouldBeFalse)
			So(conway.NextState(true, 2), ShouldBeTrue)
			So(conway.NextState(true, 3), ShouldBeTrue)
			So(conway.NextState(true, 4), ShouldBeFalse)
		})

		Convey("Then dead cells are born on exactly three", func() {
			So(conway.NextState(false, 2), ShouldBeFalse)
			So(conway.NextState(false, 3), ShouldBeTrue)
			So(conway.NextState(false, 4), ShouldBeFalse)
		})
	})
}

func TestUpdateCell(t *testing.T) {
	Convey("Given a quiet grid", t, func() {
		g, _ := grid.New()

		Convey("When an isolated agent is evaluated", func() {
			a, _ := agent.New(5, 5, g)
			a.SetActive(true)
			NewConway(DefaultParams()).UpdateCell(a, g)

			Convey("Then it stays dead and the field is untouched", func() {
				So(a.Active(), ShouldBeFalse)
				So(g.DeltaNorm(), ShouldEqual, 0)
			})
		})

		Convey("When birth needs no neighbours", func() {
			a, _ := agent.New(5, 5, g)
			params := DefaultParams()
			params.BirthCount = 0
			NewConway(params).UpdateCell(a, g)

			Convey("Then the agent is born and injects influence", func() {
				So(a.Active(), ShouldBeTrue)
				So(a.ActivationCount(), ShouldEqual, 1)
				So(g.DeltaNorm(), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When every cell reads as alive", func() {
			a, _ := agent.New(5, 5, g, agent.WithThreshold(-1))
			conway := NewConway(DefaultParams())

			Convey("Then four neighbours is overpopulation", func() {
				So(conway.CountActiveNeighbors(a, g), ShouldEqual, 4)
				conway.UpdateCell(a, g)
				So(a.Active(), ShouldBeFalse)
				So(g.DeltaNorm(), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestLibrary(t *testing.T) {
	Convey("Given the pattern library", t, func() {
		Convey("Then known patterns are copies", func() {
			glider, err := Pattern("glider")
			So(err, ShouldBeNil)
			So(glider, ShouldHaveLength, 5)

			glider[0] = agent.Position{Row: 9, Col: 9}
			So(Library["glider"][0], ShouldResemble, agent.Position{Row: 0, Col: 2})
		})

		Convey("Then unknown patterns fail", func() {
			_, err := Pattern("spaceship")
			So(stderrors.Is(err, errors.ErrUnknownPattern), ShouldBeTrue)
		})

		Convey("Then names are sorted", func() {
			So(PatternNames(), ShouldResemble, []string{"beacon", "blinker", "block", "glider", "toad"})
		})
	})
}

func TestDetectGliders(t *testing.T) {
	Convey("Given a glider drawn on the activation grid", t, func() {
		_, agents := fullSwarm(10)
		activate(agents, 10, Library["glider"], 3, 3)

		found := DetectGliders(agents, 10)

		Convey("Then exactly one match is reported at its corner", func() {
			So(found, ShouldHaveLength, 1)
			So(found[0].Position, ShouldResemble, agent.Position{Row: 3, Col: 3})
			So(found[0].Agents, ShouldHaveLength, 9)
			So(found[0].Confidence, ShouldEqual, 1.0)
		})
	})

	Convey("Given a block", t, func() {
		_, agents := fullSwarm(10)
		activate(agents, 10, Library["block"], 3, 3)

		Convey("Then no glider is found", func() {
			So(DetectGliders(agents, 10), ShouldBeEmpty)
		})
	})
}

func TestPatternAnalyzer(t *testing.T) {
	Convey("Given a pattern analyzer over a full swarm", t, func() {
		_, agents := fullSwarm(10)
		analyzer := NewPatternAnalyzer(agents)

		Convey("When only one snapshot exists", func() {
			analyzer.Snapshot()

			Convey("Then there is not enough data", func() {
				So(analyzer.Evolution().Type, ShouldEqual, EvolutionInsufficient)
			})
		})

		Convey("When a blinker stays put", func() {
			activate(agents, 10, Library["blinker"], 2, 2)

			snap := analyzer.Snapshot()
			analyzer.Snapshot()
			analyzer.Snapshot()

			Convey("Then it is one cluster and stable", func() {
				So(snap.Active, ShouldEqual, 3)
				So(snap.Clusters, ShouldHaveLength, 1)
				So(snap.Clusters[0], ShouldResemble, [2]float64{3, 3})
				So(snap.Density, ShouldAlmostEqual, 0.03, 1e-9)

				evo := analyzer.Evolution()
				So(evo.Stability, ShouldEqual, 1)
				So(evo.Type, ShouldEqual, EvolutionStable)
			})
		})

		Convey("When the active block moves", func() {
			activate(agents, 10, Library["block"], 2, 2)
			analyzer.Snapshot()

			for _, a := range agents {
				a.SetActive(false)
			}
			activate(agents, 10, Library["block"], 2, 4)
			analyzer.Snapshot()

			Convey("Then it is traveling", func() {
				evo := analyzer.Evolution()
				So(evo.Movement, ShouldResemble, [2]float64{0, 2})
				So(evo.Type, ShouldEqual, EvolutionTraveling)
			})
		})

		Convey("When activity appears out of nothing", func() {
			analyzer.Snapshot()
			activate(agents, 10, Library["toad"], 4, 4)
			analyzer.Snapshot()

			Convey("Then an emergence event is counted", func() {
				evo := analyzer.Evolution()
				So(evo.EmergenceEvents, ShouldEqual, 1)
				So(evo.Type, ShouldEqual, EvolutionChaotic)
				So(evo.Dissipation, ShouldBeLessThan, 0)
			})
		})

		Convey("Then Clear drops the history", func() {
			analyzer.Snapshot()
			analyzer.Clear()
			So(analyzer.History(), ShouldBeEmpty)
		})
	})
}
