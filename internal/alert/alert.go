// Package alert derives operator-facing incidents from fusion scores.
//
// Incidents are ephemeral: they are broadcast to live subscribers, never
// persisted, and re-emitted on every recomputation that stays above a
// threshold.
package alert

import (
	"time"

	"github.com/basketproof/sentinel/internal/fusion"
)

// Type classifies the operator response an incident calls for.
type Type string

const (
	// TypeNudge asks the customer to re-scan a suspected item.
	TypeNudge Type = "nudge"
	// TypeHold flags the basket for an attendant before release.
	TypeHold Type = "hold"
)

// Incident is one threshold-crossing operator alert.
type Incident struct {
	Time     time.Time `json:"time"`
	Station  string    `json:"station"`
	Type     Type      `json:"type"`
	Reason   string    `json:"reason"`
	Score    float64   `json:"score"`
	Evidence []string  `json:"evidence"`
}

// Evaluate maps a fusion result to an incident, or nil when the score stays
// below the nudge threshold. Evidence is the full reasons list at the time
// of evaluation.
func Evaluate(stationID string, res fusion.Result, th fusion.Thresholds, now time.Time) *Incident {
	var (
		typ    Type
		reason string
	)
	switch {
	case res.Score >= th.Hold:
		typ, reason = TypeHold, "High-risk basket"
	case res.Score >= th.Nudge:
		typ, reason = TypeNudge, "Please re-scan suspected item"
	default:
		return nil
	}

	return &Incident{
		Time:     now,
		Station:  stationID,
		Type:     typ,
		Reason:   reason,
		Score:    res.Score,
		Evidence: append([]string(nil), res.Reasons...),
	}
}
