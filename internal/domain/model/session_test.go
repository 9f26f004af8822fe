package model_test

import (
	"testing"
	"time"

	"github.com/okian/bluffmeter/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStatus(t *testing.T) {
	Convey("Given the lifecycle statuses", t, func() {
		So(model.StatusCompleted.Terminal(), ShouldBeTrue)
		So(model.StatusDisconnected.Terminal(), ShouldBeTrue)
		So(model.StatusActive.Terminal(), ShouldBeFalse)
		So(model.StatusConnecting.Terminal(), ShouldBeFalse)
		So(model.StatusIdle.Terminal(), ShouldBeFalse)
	})
}

func TestConceptStrength(t *testing.T) {
	Convey("Given concept statuses", t, func() {
		So(model.ConceptClear.Strength(), ShouldBeGreaterThan, model.ConceptShallow.Strength())
		So(model.ConceptShallow.Strength(), ShouldBeGreaterThan, model.ConceptMissing.Strength())
		So(model.ConceptStatus("bogus").Strength(), ShouldEqual, 0)
	})
}

func TestRole(t *testing.T) {
	Convey("Given speaker roles", t, func() {
		So(model.RoleAgent.Valid(), ShouldBeTrue)
		So(model.RoleUser.Valid(), ShouldBeTrue)
		So(model.Role("system").Valid(), ShouldBeFalse)
	})
}

func TestSessionClone(t *testing.T) {
	Convey("Given a populated session", t, func() {
		score := 40
		ended := time.Now()
		s := &model.Session{
			ID:              "s-1",
			Transcript:      []model.TranscriptEntry{{Role: model.RoleUser, Text: "hi"}},
			BluffHistory:    []model.BluffSample{{Score: 40}},
			ConceptCoverage: []model.ConceptCoverage{{Concept: "A", Status: model.ConceptMissing}},
			FinalBluffScore: &score,
			EndedAt:         &ended,
		}

		Convey("When the clone is mutated", func() {
			c := s.Clone()
			c.Transcript[0].Text = "changed"
			c.ConceptCoverage[0].Status = model.ConceptClear
			*c.FinalBluffScore = 99

			Convey("Then the original is untouched", func() {
				So(s.Transcript[0].Text, ShouldEqual, "hi")
				So(s.ConceptCoverage[0].Status, ShouldEqual, model.ConceptMissing)
				So(*s.FinalBluffScore, ShouldEqual, 40)
			})
		})

		Convey("Then cloning nil yields nil", func() {
			var nilSession *model.Session
			So(nilSession.Clone(), ShouldBeNil)
		})
	})
}
