// Package types contains read-side shapes shared by the service and the API.
package types

import "time"

// Entry is one leaderboard row. Lower average means less bluffing.
type Entry struct {
	Rank         int     `json:"rank"`
	CandidateID  string  `json:"candidate_id"`
	AverageScore float64 `json:"average_score"`
	BestScore    int     `json:"best_score"`
	Sessions     int     `json:"sessions"`
}

// Summary is the post-interview analytics of one session.
type Summary struct {
	Clear        int           `json:"clear"`
	Shallow      int           `json:"shallow"`
	Missing      int           `json:"missing"`
	AverageScore float64       `json:"average_score"`
	PeakScore    int           `json:"peak_score"`
	Samples      int           `json:"samples"`
	Grade        string        `json:"grade"`
	MeterLabel   string        `json:"meter_label"`
	Duration     time.Duration `json:"duration_ns"`
}
