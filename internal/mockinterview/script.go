package mockinterview

import "github.com/okian/bluffmeter/internal/domain/model"

// Turn is one speaker turn. Candidate turns are sent fragment by fragment,
// the way speech recognition delivers them.
type Turn struct {
	Role      model.Role
	Fragments []string
}

// Script is an ordered conversation.
type Script []Turn

// Fragments counts the lines the script sends.
func (s Script) Fragments() int {
	n := 0
	for _, t := range s {
		n += len(t.Fragments)
	}
	return n
}

// DefaultScript is a short databases interview: one vague answer, then a
// concrete one.
func DefaultScript() Script {
	return Script{
		{Role: model.RoleAgent, Fragments: []string{"Tell me how you would speed up a slow query."}},
		{Role: model.RoleUser, Fragments: []string{
			"Honestly it is basically simple,",
			"you just add some indexing",
			"and everything is fast, obviously.",
		}},
		{Role: model.RoleAgent, Fragments: []string{"Which index, and how do transactions interact with it?"}},
		{Role: model.RoleUser, Fragments: []string{
			"I would run EXPLAIN first and look at the plan for query optimization,",
			"then add a composite B-tree index on the filtered columns.",
			"Transactions keep ACID properties so writes to the index are atomic with the row.",
		}},
	}
}
