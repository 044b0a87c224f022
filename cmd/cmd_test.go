package cmd

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
	"github.com/theapemachine/gridswarm/pkg/config"
	"github.com/theapemachine/gridswarm/pkg/gate"
)

func TestEmbeddedConfig(t *testing.T) {
	Convey("Given the embedded default config", t, func() {
		fh, err := embedded.Open("cfg/config.yml")
		So(err, ShouldBeNil)
		defer fh.Close()

		v := viper.New()
		v.SetConfigType("yml")
		So(v.ReadConfig(fh), ShouldBeNil)

		Convey("Then it decodes to the built-in defaults", func() {
			loaded, err := config.Load(v)
			So(err, ShouldBeNil)

			want := config.Default()
			So(loaded.Swarm(), ShouldResemble, want.Swarm())
			So(loaded.Gates, ShouldResemble, want.Gates)
			So(loaded.Serve, ShouldResemble, want.Serve)
			So(loaded.Diagnostics, ShouldResemble, want.Diagnostics)
			So(loaded.Bots.Strategy, ShouldEqual, want.Bots.Strategy)
			So(loaded.Bots.Bot.Model, ShouldEqual, want.Bots.Bot.Model)
			So(loaded.Bots.Bot.QueueSize, ShouldEqual, want.Bots.Bot.QueueSize)
		})
	})
}

func TestParseGateIDs(t *testing.T) {
	Convey("Given no arguments", t, func() {
		ids, err := parseGateIDs(nil)
		So(err, ShouldBeNil)
		So(ids, ShouldResemble, gate.IDs())
	})

	Convey("Given explicit ids", t, func() {
		ids, err := parseGateIDs([]string{"4", "1"})
		So(err, ShouldBeNil)
		So(ids, ShouldResemble, []int{4, 1})
	})

	Convey("Given a non-numeric id", t, func() {
		_, err := parseGateIDs([]string{"four"})
		So(err, ShouldNotBeNil)
	})
}

func TestParseDuration(t *testing.T) {
	Convey("Given load durations from the command line", t, func() {
		d, err := parseDuration("2s")
		So(err, ShouldBeNil)
		So(d, ShouldEqual, 2*time.Second)

		_, err = parseDuration("0s")
		So(err, ShouldNotBeNil)

		_, err = parseDuration("soon")
		So(err, ShouldNotBeNil)
	})
}

func TestCommandsRegistered(t *testing.T) {
	Convey("Given the root command", t, func() {
		names := map[string]bool{}
		for _, sub := range rootCmd.Commands() {
			names[sub.Name()] = true
		}

		for _, name := range []string{"simulate", "gate", "bots", "diagnose", "dashboard", "scaffold", "serve", "ui"} {
			So(names[name], ShouldBeTrue)
		}
	})
}
