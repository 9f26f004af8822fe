package judge

import (
	"fmt"
	"strings"

	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/tidwall/gjson"
)

// parseAnalysis reads the analysis object emitted by a backend and restricts
// concept names to the topic's set, returning canonical spellings.
func parseAnalysis(raw string, concepts []string) (model.Judgment, error) {
	raw = stripFence(raw)
	if raw == "" || !gjson.Valid(raw) {
		return model.Judgment{}, fmt.Errorf("%w: not a JSON document", ErrMalformedOutput)
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return model.Judgment{}, fmt.Errorf("%w: not a JSON object", ErrMalformedOutput)
	}

	for _, f := range []string{fieldClear, fieldShallow, fieldMissing} {
		if !doc.Get(f).IsArray() {
			return model.Judgment{}, fmt.Errorf("%w: %s is not a list", ErrMalformedOutput, f)
		}
	}
	vagueness := doc.Get(fieldVagueness)
	if vagueness.Type != gjson.Number {
		return model.Judgment{}, fmt.Errorf("%w: %s is not a number", ErrMalformedOutput, fieldVagueness)
	}
	confidence := doc.Get(fieldConfidence)
	if !confidence.IsBool() {
		return model.Judgment{}, fmt.Errorf("%w: %s is not a boolean", ErrMalformedOutput, fieldConfidence)
	}

	canon := make(map[string]string, len(concepts))
	for _, c := range concepts {
		canon[strings.ToLower(strings.TrimSpace(c))] = c
	}

	missingRaw := names(doc.Get(fieldMissing))
	return model.Judgment{
		Clear:              restrict(names(doc.Get(fieldClear)), canon),
		Shallow:            restrict(names(doc.Get(fieldShallow)), canon),
		Missing:            restrict(missingRaw, canon),
		MissingReported:    len(missingRaw),
		Vagueness:          vagueness.Float(),
		ConfidenceLanguage: confidence.Bool(),
		Depth:              doc.Get(fieldDepth).Float(),
		FollowUp:           strings.TrimSpace(doc.Get(fieldFollowUp).String()),
		Note:               strings.TrimSpace(doc.Get(fieldNote).String()),
	}, nil
}

func names(list gjson.Result) []string {
	var out []string
	list.ForEach(func(_, v gjson.Result) bool {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

// restrict keeps names found in canon, de-duplicated, in input order.
func restrict(in []string, canon map[string]string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, n := range in {
		c, ok := canon[strings.ToLower(n)]
		if !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
