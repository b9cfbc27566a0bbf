// Package frame defines the wire types for inbound checkout telemetry and
// tolerant decoding helpers for the newline-delimited JSON stream.
//
// Decoding is deliberately forgiving: a frame with missing or ill-typed
// fields decodes to zero values rather than an error. The only hard failure
// is an unparsable JSON line, which callers drop and move past.
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame is one telemetry unit from the ingestion stream.
//
// Dataset identifies the upstream sensor feed (e.g. "POS_Transactions",
// "rfid_readings"); the router matches it case-insensitively by substring.
type Frame struct {
	Dataset   string `json:"dataset"`
	Sequence  int64  `json:"sequence,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Event     Event  `json:"event"`
}

// Event is the station-scoped payload of a frame. Data is kept raw until the
// router knows which dataset-specific shape to decode it into.
type Event struct {
	StationID string          `json:"station_id"`
	Status    string          `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// POSObservation is one point-of-sale scan.
//
// WeightG and ExpectedWeight are pointers because absence matters: a missing
// weight disables the weight-mismatch rule entirely, and ExpectedWeight is
// attached by the router at ingest time only when the catalog resolves it.
type POSObservation struct {
	SKU            string   `json:"sku,omitempty"`
	ProductName    string   `json:"product_name,omitempty"`
	Price          float64  `json:"price,omitempty"`
	WeightG        *float64 `json:"weight_g,omitempty"`
	ExpectedWeight *float64 `json:"expected_weight,omitempty"`
	CustomerID     string   `json:"customer_id,omitempty"`
}

// RFIDRead is one RFID tag read near a station.
type RFIDRead struct {
	SKU      string `json:"sku,omitempty"`
	EPC      string `json:"epc,omitempty"`
	Location string `json:"location,omitempty"`
}

// Empty reports whether the read carries no usable signal. Upstream emits
// keepalive frames with all-null data; those are not buffered.
func (r RFIDRead) Empty() bool {
	return r.SKU == "" && r.EPC == "" && r.Location == ""
}

// VisionPrediction is one vision-model product prediction.
type VisionPrediction struct {
	PredictedProduct string  `json:"predicted_product,omitempty"`
	Accuracy         float64 `json:"accuracy,omitempty"`
}

// QueueSnapshot is the latest queue-depth sample for a station.
// It is overwritten on every queue-monitor frame, never appended.
type QueueSnapshot struct {
	CustomerCount    int     `json:"customer_count"`
	AverageDwellTime float64 `json:"average_dwell_time"`
}

// Banner is the one-time greeting line the replay server sends on connect.
type Banner struct {
	Service     string   `json:"service"`
	Datasets    []string `json:"datasets,omitempty"`
	Events      int      `json:"events,omitempty"`
	SpeedFactor float64  `json:"speed_factor,omitempty"`
}

// Decode parses one stream line into a Frame.
// Returns an error only for unparsable JSON; missing fields are fine.
func Decode(line []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// DecodeBanner reports whether the line is a service banner, and parses it.
// A line is a banner when it carries a non-empty "service" field.
func DecodeBanner(line []byte) (Banner, bool) {
	if !bytes.Contains(line, []byte(`"service"`)) {
		return Banner{}, false
	}
	var b Banner
	if err := json.Unmarshal(line, &b); err != nil || b.Service == "" {
		return Banner{}, false
	}
	return b, true
}

// DecodePOS decodes raw event data as a POS observation.
// Malformed data yields the zero observation.
func DecodePOS(raw json.RawMessage) POSObservation {
	var obs POSObservation
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &obs)
	}
	return obs
}

// DecodeRFID decodes raw event data as an RFID read.
func DecodeRFID(raw json.RawMessage) RFIDRead {
	var r RFIDRead
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &r)
	}
	return r
}

// DecodeVision decodes raw event data as a vision prediction.
func DecodeVision(raw json.RawMessage) VisionPrediction {
	var v VisionPrediction
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// DecodeQueue decodes raw event data as a queue snapshot.
func DecodeQueue(raw json.RawMessage) QueueSnapshot {
	var q QueueSnapshot
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &q)
	}
	return q
}
