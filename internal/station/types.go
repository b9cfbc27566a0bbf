package station

import "github.com/basketproof/sentinel/internal/frame"

// DefaultStationID is the sentinel used when a frame carries no station id.
const DefaultStationID = "unknown"

// Buffer bounds for the rolling evidence windows. The oldest entry is
// evicted before the bound+1-th append.
const (
	POSBound    = 10
	RFIDBound   = 20
	VisionBound = 10
)

// State is the rolling evidence window for one checkout station, plus the
// last fusion result computed against it. States are created on first
// reference and live for the process lifetime.
type State struct {
	StationID string                   `json:"station_id"`
	POS       []frame.POSObservation   `json:"pos"`
	RFID      []frame.RFIDRead         `json:"rfid"`
	Vision    []frame.VisionPrediction `json:"vision"`
	Queue     frame.QueueSnapshot      `json:"queue"`
	Score     float64                  `json:"score"`
	Reasons   []string                 `json:"reasons"`
	Flags     Flags                    `json:"flags"`
}

// LastPOS returns the most recent POS observation, or nil when none exists.
func (s *State) LastPOS() *frame.POSObservation {
	if len(s.POS) == 0 {
		return nil
	}
	return &s.POS[len(s.POS)-1]
}

// LastVision returns the most recent vision prediction, or nil.
func (s *State) LastVision() *frame.VisionPrediction {
	if len(s.Vision) == 0 {
		return nil
	}
	return &s.Vision[len(s.Vision)-1]
}

// Flags records which fusion rules fired in the last evaluation pass.
// Consumed by broadcast subscribers; the audit mapper works from reason
// text instead (see the audit package).
type Flags struct {
	ScanAvoidanceSKU string      `json:"scan_avoidance_sku,omitempty"`
	BarcodeSwitch    *SKUPair    `json:"barcode_switch,omitempty"`
	WeightMismatch   *WeightPair `json:"weight_mismatch,omitempty"`
}

// SKUPair names the vision-identified item against the scanned one.
type SKUPair struct {
	Actual  string `json:"actual"`
	Scanned string `json:"scanned"`
}

// WeightPair carries the expected and observed weights in grams.
type WeightPair struct {
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
}
