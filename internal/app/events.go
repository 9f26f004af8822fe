package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/internal/domain/scoring"
)

// Steerer injects an instruction into a conversation that is not subscribed
// to the event stream, for example a voice agent's contextual update. Live
// subscribers receive the same instruction as an EventSteering event.
type Steerer interface {
	SendContextualUpdate(ctx context.Context, sessionID, instruction string) error
}

// EventType tags an Event.
type EventType string

const (
	EventStatus   EventType = "status"
	EventAnalysis EventType = "analysis"
	EventSteering EventType = "steering"
)

// Analysis is the result of one applied judgment.
type Analysis struct {
	BluffScore int                     `json:"bluff_score"`
	Label      string                  `json:"label"`
	Tone       string                  `json:"tone"`
	Coverage   []model.ConceptCoverage `json:"coverage"`
	Changed    []model.ConceptCoverage `json:"changed,omitempty"`
	FollowUp   string                  `json:"follow_up,omitempty"`
	Note       string                  `json:"note,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
}

// Event is what subscribers of a session receive.
type Event struct {
	Type        EventType    `json:"type"`
	SessionID   string       `json:"session_id"`
	Status      model.Status `json:"status,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Analysis    *Analysis    `json:"analysis,omitempty"`
	Instruction string       `json:"instruction,omitempty"`
}

// steeringInstruction phrases a follow-up for the interviewer agent.
func steeringInstruction(followUp, tone string, missing []string) string {
	var b strings.Builder
	if tone == scoring.ToneAggressive {
		fmt.Fprintf(&b, "The last answer sounded like bluffing. Challenge it directly and ask: %q. "+
			"Do not accept generalities; insist on a concrete example.", followUp)
	} else {
		fmt.Fprintf(&b, "Probe deeper and ask: %q. Encourage specifics.", followUp)
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, " Not yet covered: %s.", strings.Join(missing, ", "))
	}
	return b.String()
}
