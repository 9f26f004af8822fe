// Package difficulty defines the fixed interview difficulty profiles.
package difficulty

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown is returned for an id that names no profile.
var ErrUnknown = errors.New("unknown difficulty")

// Profile is a named weighting and tone preset. Profiles are values and are
// never mutated after selection.
type Profile struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`

	VaguenessWeight  float64 `json:"vagueness_weight"`
	MissingWeight    float64 `json:"missing_weight"`
	ConfidenceWeight float64 `json:"confidence_weight"`

	// AdversarialLevel steers the judge's follow-up tone.
	AdversarialLevel string `json:"adversarial_level"`
}

const (
	LightlyGrilled = "lightly-grilled"
	MediumRare     = "medium-rare"
	SlowBurnt      = "slow-burnt"
	Roasted        = "roasted"
)

var profiles = [...]Profile{ //nolint:gochecknoglobals // immutable table
	{
		ID:               LightlyGrilled,
		Label:            "Lightly Grilled",
		Description:      "Warm and encouraging. Great for beginners.",
		VaguenessWeight:  0.25,
		MissingWeight:    0.30,
		ConfidenceWeight: 0.10,
		AdversarialLevel: "gentle",
	},
	{
		ID:               MediumRare,
		Label:            "Medium Rare",
		Description:      "Fair but probing. Expects some depth.",
		VaguenessWeight:  0.35,
		MissingWeight:    0.35,
		ConfidenceWeight: 0.15,
		AdversarialLevel: "moderate",
	},
	{
		ID:               SlowBurnt,
		Label:            "Slow Burnt",
		Description:      "Relentless follow-ups. No hand-waving.",
		VaguenessWeight:  0.40,
		MissingWeight:    0.40,
		ConfidenceWeight: 0.20,
		AdversarialLevel: "aggressive",
	},
	{
		ID:               Roasted,
		Label:            "Roasted",
		Description:      "Brutal. Will find every gap and exploit it.",
		VaguenessWeight:  0.45,
		MissingWeight:    0.45,
		ConfidenceWeight: 0.25,
		AdversarialLevel: "ruthless",
	},
}

// All returns every profile, gentlest first.
func All() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles[:])
	return out
}

// Default returns medium-rare.
func Default() Profile { return profiles[1] }

// Lookup resolves an id case-insensitively. An empty id selects the default.
func Lookup(id string) (Profile, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return Default(), nil
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrUnknown, id)
}
