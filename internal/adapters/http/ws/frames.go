package ws

import (
	"time"

	service "github.com/okian/bluffmeter/internal/app"
	"github.com/okian/bluffmeter/internal/domain/model"
)

// Frame types.
const (
	FrameConnect          = "connect"
	FrameMessage          = "message"
	FrameError            = "error"
	FrameEnd              = "end"
	FramePing             = "ping"
	FramePong             = "pong"
	FrameStatus           = "status"
	FrameAnalysis         = "analysis"
	FrameContextualUpdate = "contextual_update"
	FrameAck              = "ack"
)

// InFrame is a client to server frame.
type InFrame struct {
	Type   string     `json:"type"`
	ID     string     `json:"id,omitempty"`
	Role   model.Role `json:"role,omitempty"`
	Text   string     `json:"text,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// OutFrame is a server to client frame.
type OutFrame struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Status    model.Status `json:"status,omitempty"`
	Reason    string       `json:"reason,omitempty"`

	BluffScore *int                    `json:"bluff_score,omitempty"`
	Label      string                  `json:"label,omitempty"`
	Tone       string                  `json:"tone,omitempty"`
	Coverage   []model.ConceptCoverage `json:"coverage,omitempty"`
	Changed    []model.ConceptCoverage `json:"changed,omitempty"`
	FollowUp   string                  `json:"follow_up,omitempty"`
	Note       string                  `json:"note,omitempty"`
	Timestamp  *time.Time              `json:"timestamp,omitempty"`

	Instruction string `json:"instruction,omitempty"`

	// Ack fields.
	MessageID string `json:"message_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func frameOf(ev service.Event) OutFrame {
	switch ev.Type {
	case service.EventAnalysis:
		a := ev.Analysis
		score := a.BluffScore
		ts := a.Timestamp
		return OutFrame{
			Type:       FrameAnalysis,
			SessionID:  ev.SessionID,
			BluffScore: &score,
			Label:      a.Label,
			Tone:       a.Tone,
			Coverage:   a.Coverage,
			Changed:    a.Changed,
			FollowUp:   a.FollowUp,
			Note:       a.Note,
			Timestamp:  &ts,
		}
	case service.EventSteering:
		return OutFrame{Type: FrameContextualUpdate, SessionID: ev.SessionID, Instruction: ev.Instruction}
	default:
		return OutFrame{Type: FrameStatus, SessionID: ev.SessionID, Status: ev.Status, Reason: ev.Reason}
	}
}
