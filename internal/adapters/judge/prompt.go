package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

const toolName = "analyze_response"

// Output field names shared by every backend.
const (
	fieldClear      = "concepts_mentioned_clearly"
	fieldShallow    = "concepts_mentioned_shallowly"
	fieldMissing    = "concepts_missing"
	fieldVagueness  = "vagueness_score"
	fieldConfidence = "confidence_language_detected"
	fieldDepth      = "depth_score"
	fieldFollowUp   = "follow_up_question"
	fieldNote       = "assessment_note"
)

func systemPrompt(req Request) string {
	concepts, _ := json.Marshal(req.Concepts)

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert knowledge assessor for the topic %q.\n", req.TopicTitle)
	b.WriteString("Analyze the candidate's spoken answer and determine:\n")
	b.WriteString("1. which core concepts they explained clearly and with depth\n")
	b.WriteString("2. which core concepts they mentioned only shallowly\n")
	b.WriteString("3. which core concepts are missing entirely\n")
	b.WriteString("4. how vague their language is, from 0 (precise) to 10 (entirely vague)\n")
	b.WriteString("5. whether confident filler such as \"obviously\", \"basically\" or \"simply\" masks a gap\n")
	b.WriteString("6. one targeted follow-up question that exposes the weakest gap\n\n")
	fmt.Fprintf(&b, "The core concepts are: %s\n", concepts)
	b.WriteString("Only use concept names from that list, spelled exactly as given.\n")
	if level := req.Difficulty.AdversarialLevel; level != "" {
		fmt.Fprintf(&b, "Your follow-up style is %s.\n", level)
	}
	if p := req.Previous; p != nil {
		missing, _ := json.Marshal(p.Missing)
		fmt.Fprintf(&b, "Previously the candidate had a bluff score of %d and was missing %s. "+
			"Track improvement or deterioration.\n", p.BluffScore, missing)
	} else {
		b.WriteString("This is the candidate's first answer.\n")
	}
	fmt.Fprintf(&b, "Return your analysis by calling %s.", toolName)
	return b.String()
}

// parametersSchema is the JSON schema of the analysis, used as the tool
// parameters of chat-completions backends.
func parametersSchema() map[string]any {
	stringList := func(desc string) map[string]any {
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			fieldClear:      stringList("Concepts explained with genuine depth and accuracy"),
			fieldShallow:    stringList("Concepts mentioned without real understanding"),
			fieldMissing:    stringList("Core concepts not addressed at all"),
			fieldVagueness:  map[string]any{"type": "number", "description": "0 = extremely precise, 10 = entirely vague"},
			fieldConfidence: map[string]any{"type": "boolean", "description": "Confident language used to mask gaps"},
			fieldDepth:      map[string]any{"type": "number", "description": "0 = surface level, 10 = expert depth"},
			fieldFollowUp:   map[string]any{"type": "string", "description": "Adversarial but fair question on the weakest gap"},
			fieldNote:       map[string]any{"type": "string", "description": "Brief note on the candidate's understanding"},
		},
		"required": []string{
			fieldClear, fieldShallow, fieldMissing, fieldVagueness, fieldConfidence, fieldDepth, fieldFollowUp,
		},
		"additionalProperties": false,
	}
}
