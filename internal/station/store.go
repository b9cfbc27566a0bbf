// Package station owns the per-station rolling evidence windows.
//
// The store is the single owner of all mutable station state. Mutation is
// driven by the router's single-writer loop; readers elsewhere (broadcast
// subscribers, HTTP handlers) only ever see deep copies via Snapshot, so
// concurrent access across stations is safe by construction.
//
// Every operation is total: missing station ids map to a fixed sentinel,
// and no call can fail or error.
package station

import (
	"strings"
	"sync"

	"github.com/basketproof/sentinel/internal/frame"
)

// Store holds one State per station id.
type Store struct {
	mu       sync.RWMutex
	stations map[string]*State
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{stations: make(map[string]*State)}
}

// Normalize maps an absent or blank station id to the default sentinel.
func Normalize(id string) string {
	if strings.TrimSpace(id) == "" {
		return DefaultStationID
	}
	return id
}

// getOrCreate returns the state for a station, creating it on first
// reference. Caller must hold s.mu.
func (s *Store) getOrCreate(id string) *State {
	id = Normalize(id)
	st, ok := s.stations[id]
	if !ok {
		st = &State{StationID: id}
		s.stations[id] = st
	}
	return st
}

// AppendPOS appends a POS observation, evicting the oldest entry once the
// buffer holds POSBound observations.
func (s *Store) AppendPOS(id string, obs frame.POSObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(id)
	st.POS = appendBounded(st.POS, obs, POSBound)
}

// AppendRFID appends an RFID read, bounded to RFIDBound entries.
// Reads carrying no signal at all (null keepalives) are ignored.
func (s *Store) AppendRFID(id string, r frame.RFIDRead) {
	if r.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(id)
	st.RFID = appendBounded(st.RFID, r, RFIDBound)
}

// AppendVision appends a vision prediction, bounded to VisionBound entries.
// Predictions without a product are ignored.
func (s *Store) AppendVision(id string, v frame.VisionPrediction) {
	if v.PredictedProduct == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(id)
	st.Vision = appendBounded(st.Vision, v, VisionBound)
}

// SetQueue replaces the station's queue snapshot.
func (s *Store) SetQueue(id string, q frame.QueueSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(id).Queue = q
}

// SetResult overwrites the last fusion result for a station.
func (s *Store) SetResult(id string, score float64, reasons []string, flags Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(id)
	st.Score = score
	st.Reasons = reasons
	st.Flags = flags
}

// Snapshot returns a deep copy of a station's state, creating the station
// on first reference like every other operation.
func (s *Store) Snapshot(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(id)

	cp := *st
	cp.POS = append([]frame.POSObservation(nil), st.POS...)
	cp.RFID = append([]frame.RFIDRead(nil), st.RFID...)
	cp.Vision = append([]frame.VisionPrediction(nil), st.Vision...)
	cp.Reasons = append([]string(nil), st.Reasons...)
	return cp
}

// StationIDs returns the ids of all known stations.
func (s *Store) StationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.stations))
	for id := range s.stations {
		ids = append(ids, id)
	}
	return ids
}

// appendBounded appends to a slice, evicting the oldest element first when
// the slice already holds bound entries.
func appendBounded[T any](buf []T, v T, bound int) []T {
	if len(buf) >= bound {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	return append(buf, v)
}
