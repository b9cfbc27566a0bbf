// Package audit produces the durable evidence trail consumed downstream.
//
// Every detected condition becomes one line of the append-only JSONL log.
// Events are never deduplicated: repeated high-risk frames produce repeated
// lines, keeping the log a raw evidentiary trail rather than a state log.
package audit

import (
	"fmt"
	"sync"
)

// Canonical event names. Downstream reporting keys on these exact strings;
// they must not be reworded.
const (
	EventScannerAvoidance  = "Scanner Avoidance"
	EventBarcodeSwitching  = "Barcode Switching"
	EventWeightDiscrepancy = "Weight Discrepancies"
	EventSystemsCrash      = "Unexpected Systems Crash"
	EventLongQueue         = "Long Queue Length"
	EventLongWait          = "Long Wait Time"
	EventStaffingNeeds     = "Staffing Needs"
	EventStationAction     = "Checkout Station Action"
	EventOperatorWatch     = "Operator Watch"
)

// Event is one audit log line.
//
// EventData always carries an "event_name" key plus event-specific fields;
// a map keeps the per-event shapes table-driven and marshals with stable
// (sorted) key order.
type Event struct {
	Timestamp string         `json:"timestamp"`
	EventID   string         `json:"event_id"`
	EventData map[string]any `json:"event_data"`
}

// Sequence issues monotonically increasing event ids for one process run.
// Ids restart at E000 on process restart; uniqueness is only guaranteed
// within a run.
type Sequence struct {
	mu sync.Mutex
	n  int
}

// NewSequence creates a sequence starting at E000.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NextID returns the next event id.
func (s *Sequence) NextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("E%03d", s.n)
	s.n++
	return id
}

// Count returns how many ids have been issued.
func (s *Sequence) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
