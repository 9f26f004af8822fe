package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/okian/bluffmeter/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When Init is called twice", func() {
			So(logger.Init(), ShouldBeNil)
			So(logger.Init(), ShouldBeNil)

			Convey("Then Get returns a usable logger", func() {
				l := logger.Get()
				So(l, ShouldNotBeNil)
				So(func() { l.Info(context.Background(), "hello", logger.String("k", "v")) }, ShouldNotPanic)
				So(logger.Sync(), ShouldBeNil)
			})
		})
	})
}

func TestLoggerJSONOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithFormat(logger.FormatJSON), logger.WithWriter(&buf)), ShouldBeNil)
		defer func() { _ = logger.Init() }()

		Convey("When logging with fields under a named logger", func() {
			logger.Named("session").Info(context.Background(), "analysis applied",
				logger.String("session_id", "s-1"),
				logger.Int("score", 42),
				logger.Error(errors.New("boom")),
			)

			Convey("Then the line is valid JSON with grouped fields and a source", func() {
				var line map[string]any
				So(json.Unmarshal(buf.Bytes(), &line), ShouldBeNil)
				So(line["msg"], ShouldEqual, "analysis applied")
				group, ok := line["session"].(map[string]any)
				So(ok, ShouldBeTrue)
				So(group["session_id"], ShouldEqual, "s-1")
				So(group["score"], ShouldEqual, 42.0)
				So(group["error"], ShouldEqual, "boom")
				So(group["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When the level is raised to warn", func() {
			So(logger.SetLevelString("warn"), ShouldBeNil)
			logger.Get().Info(context.Background(), "hidden")
			logger.Get().Warn(context.Background(), "shown")

			Convey("Then info lines are filtered", func() {
				out := buf.String()
				So(strings.Contains(out, "hidden"), ShouldBeFalse)
				So(strings.Contains(out, "shown"), ShouldBeTrue)
			})
		})

		Convey("When With attaches fields", func() {
			logger.Get().With(logger.String("candidate_id", "c-9")).Info(context.Background(), "tagged")

			Convey("Then every line carries them", func() {
				So(buf.String(), ShouldContainSubstring, `"candidate_id":"c-9"`)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		So(logger.SetLevelString("DEBUG"), ShouldBeNil)
		So(logger.SetLevelString(" warning "), ShouldBeNil)
		So(logger.SetLevelString(""), ShouldBeNil)
		So(logger.SetLevelString("loud"), ShouldNotBeNil)
	})
}

func TestNop(t *testing.T) {
	Convey("Given a nop logger", t, func() {
		l := logger.Nop()
		So(func() { l.Named("x").With(logger.Bool("b", true)).Error(context.Background(), "dropped") }, ShouldNotPanic)
	})
}
