package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerate(t *testing.T) {
	Convey("Given an empty root", t, func() {
		root := t.TempDir()
		generator := New(root, false)

		created, err := generator.Generate()
		So(err, ShouldBeNil)

		Convey("Then the tree and every file exist", func() {
			So(created, ShouldHaveLength, 5)
			So(created, ShouldContain, "config/swarm_config.yaml")

			for _, dir := range Directories {
				info, err := os.Stat(filepath.Join(root, dir))
				So(err, ShouldBeNil)
				So(info.IsDir(), ShouldBeTrue)
			}
		})

		Convey("Then the config reads back", func() {
			cfg, err := LoadConfig(filepath.Join(root, "config", "swarm_config.yaml"))
			So(err, ShouldBeNil)
			So(cfg, ShouldResemble, DefaultSwarmConfig())
		})

		Convey("Then the gates doc lists every checkpoint key", func() {
			buf, err := os.ReadFile(filepath.Join(root, "docs", "GATES.md"))
			So(err, ShouldBeNil)
			So(string(buf), ShouldContainSubstring, "gate_5_sustained_load_hardware_verified.json")
		})

		Convey("When it runs again", func() {
			guide := filepath.Join(root, "docs", "BUILD_GUIDE.md")
			So(os.WriteFile(guide, []byte("edited"), 0o644), ShouldBeNil)

			again, err := New(root, false).Generate()
			So(err, ShouldBeNil)
			So(again, ShouldBeEmpty)

			buf, _ := os.ReadFile(guide)
			So(string(buf), ShouldEqual, "edited")

			Convey("Then force overwrites", func() {
				forced, err := New(root, true).Generate()
				So(err, ShouldBeNil)
				So(forced, ShouldHaveLength, 5)

				buf, _ := os.ReadFile(guide)
				So(string(buf), ShouldStartWith, "# Build guide")
			})
		})
	})

	Convey("Given a missing config file", t, func() {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		So(err, ShouldNotBeNil)
	})
}
