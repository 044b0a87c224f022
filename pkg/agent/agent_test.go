package agent

import (
	"math"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/gridswarm/pkg/grid"
)

func newGrid(size int) *grid.Grid {
	g, err := grid.New(grid.WithSize(size))
	if err != nil {
		panic(err)
	}
	return g
}

func TestNew(t *testing.T) {
	Convey("Given a 12x12 grid", t, func() {
		g := newGrid(12)

		Convey("When an agent is placed inside it", func() {
			a, err := New(3, 4, g)

			Convey("Then it carries the defaults", func() {
				So(err, ShouldBeNil)
				So(a.ID(), ShouldEqual, 40)
				So(a.Threshold(), ShouldEqual, 0.1)
				So(a.Strength(), ShouldEqual, 0.5)
				So(a.Active(), ShouldBeFalse)
			})
		})

		Convey("When an agent is placed outside it", func() {
			_, err := New(12, 0, g)

			Convey("Then construction fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestNeighbors(t *testing.T) {
	Convey("Given agents at a corner, an edge and the middle", t, func() {
		g := newGrid(12)
		corner, _ := New(0, 0, g)
		edge, _ := New(0, 5, g)
		middle, _ := New(5, 5, g)

		Convey("Then only in-bounds neighbours are listed", func() {
			So(corner.Neighbors(), ShouldHaveLength, 2)
			So(edge.Neighbors(), ShouldHaveLength, 3)
			So(middle.Neighbors(), ShouldHaveLength, 4)
			So(middle.Neighbors(), ShouldContain, Position{Row: 4, Col: 5})
		})

		Convey("Then distance is Manhattan", func() {
			So(corner.DistanceTo(middle), ShouldEqual, 10)
			So(middle.DistanceTo(middle), ShouldEqual, 0)
		})
	})
}

func TestSense(t *testing.T) {
	Convey("Given an agent on an excited cell", t, func() {
		g := newGrid(12)
		a, _ := New(6, 6, g)
		a.Inject(2.0)

		influence := a.Sense()

		Convey("Then the change feeds the internal state", func() {
			expected := math.Max(-1, math.Min(1, influence*a.Threshold()))
			So(influence, ShouldNotEqual, 0)
			So(a.Internal(), ShouldAlmostEqual, expected, 1e-9)
		})

		Convey("Then sensing the same value again changes nothing", func() {
			before := a.Internal()
			a.Sense()
			So(a.Internal(), ShouldEqual, before)
		})
	})
}

func TestUpdate(t *testing.T) {
	Convey("Given an agent on a quiet grid", t, func() {
		g := newGrid(12)
		a, _ := New(6, 6, g)
		a.SetInternal(0.5)

		a.Update()

		Convey("Then the internal state decays and nothing propagates", func() {
			So(a.Internal(), ShouldAlmostEqual, 0.475, 1e-12)
			So(g.DeltaNorm(), ShouldEqual, 0)
		})
	})

	Convey("Given a sensitive agent on an excited cell", t, func() {
		g := newGrid(12)
		a, _ := New(6, 6, g, WithThreshold(1e-9))
		a.Inject(1.0)
		before := g.DeltaNorm()

		a.Update()

		Convey("Then it pushes influence into its neighbours", func() {
			So(g.DeltaNorm(), ShouldNotEqual, before)
			So(a.Base(), ShouldNotEqual, 0)
		})
	})

	Convey("Given an agent that was activated", t, func() {
		g := newGrid(12)
		a, _ := New(1, 1, g)
		a.SetInternal(1.5)
		a.SetActive(true)
		a.MarkActivation()

		Convey("Then internal state is clamped", func() {
			So(a.Internal(), ShouldEqual, 1.0)
			So(a.ActivationCount(), ShouldEqual, 1)
		})

		Convey("Then Reset clears it", func() {
			a.Reset()
			So(a.Internal(), ShouldEqual, 0)
			So(a.Active(), ShouldBeFalse)
			So(a.ActivationCount(), ShouldEqual, 0)
		})
	})
}

func TestLayouts(t *testing.T) {
	Convey("Given a 12x12 grid", t, func() {
		g := newGrid(12)

		Convey("Then Full covers every cell", func() {
			agents, err := Full(g)
			So(err, ShouldBeNil)
			So(agents, ShouldHaveLength, 144)
		})

		Convey("Then Strided takes every other row and column", func() {
			agents, err := Strided(g, 2)
			So(err, ShouldBeNil)
			So(agents, ShouldHaveLength, 36)

			_, err = Strided(g, 0)
			So(err, ShouldNotBeNil)
		})

		Convey("Then Scattered picks distinct cells", func() {
			agents, err := Scattered(g, 0.8, rand.New(rand.NewSource(1)))
			So(err, ShouldBeNil)
			So(agents, ShouldHaveLength, 115)

			seen := map[Position]bool{}
			for _, a := range agents {
				So(seen[a.Position()], ShouldBeFalse)
				seen[a.Position()] = true
			}

			_, err = Scattered(g, 1.5, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("Then GliderSeed is centred", func() {
			agents, err := GliderSeed(g)
			So(err, ShouldBeNil)
			So(agents, ShouldHaveLength, 5)
			So(agents[0].Position(), ShouldResemble, Position{Row: 6, Col: 5})
			So(agents[4].Position(), ShouldResemble, Position{Row: 7, Col: 7})
		})
	})
}

func TestAnalyzer(t *testing.T) {
	Convey("Given a full swarm", t, func() {
		g := newGrid(12)
		agents, _ := Full(g)
		analyzer := NewAnalyzer(agents)

		Convey("When nobody is active", func() {
			Convey("Then the swarm is quiescent", func() {
				So(analyzer.ActivationRate(), ShouldEqual, 0)
				So(analyzer.Complexity(), ShouldEqual, 0)
				So(analyzer.DetectPatterns(), ShouldResemble, []string{PatternQuiescent})
			})
		})

		Convey("When everybody is active", func() {
			for _, a := range agents {
				a.SetActive(true)
			}

			Convey("Then it is synchronized and fully linked", func() {
				So(analyzer.ActivationRate(), ShouldEqual, 1)
				So(analyzer.Complexity(), ShouldEqual, 1)
				So(analyzer.DetectPatterns()[0], ShouldEqual, PatternSynchronized)
			})
		})

		Convey("When a compact block near the centre is active", func() {
			for _, a := range agents {
				if a.Row() >= 4 && a.Row() <= 7 && a.Col() >= 4 && a.Col() <= 7 {
					a.SetActive(true)
				}
			}

			Convey("Then it reads as clustered", func() {
				So(analyzer.Complexity(), ShouldEqual, 0.75)
				So(analyzer.DetectPatterns(), ShouldResemble, []string{PatternClustered})

				row, col := analyzer.CenterOfMass()
				So(row, ShouldEqual, 5.5)
				So(col, ShouldEqual, 5.5)
			})
		})

		Convey("When a single corner agent is active", func() {
			agents[0].SetActive(true)

			Convey("Then the activity is eccentric", func() {
				So(analyzer.DetectPatterns(), ShouldContain, PatternEccentric)
			})
		})

		Convey("Then the report covers every agent", func() {
			report := analyzer.Report()
			So(report.AgentCount, ShouldEqual, 144)
			So(report.Agents, ShouldHaveLength, 144)
		})
	})
}
