package audit

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/basketproof/sentinel/internal/frame"
	"github.com/basketproof/sentinel/internal/fusion"
)

// skuPattern extracts a SKU token from reason text when no POS observation
// is available to prefer.
var skuPattern = regexp.MustCompile(`PRD_[A-Z]_\d+|PRD_\w+`)

// failureVocab matches dataset status strings that indicate a sensor
// failure upstream.
var failureVocab = regexp.MustCompile(`(?i)(Crash|Read Error|Failure)`)

// Mapper translates fusion reasons and station events into canonical audit
// events and appends them to its sink.
//
// Classification deliberately pattern-matches the human-readable reason text
// rather than the structured flags, so the emitted taxonomy stays exactly in
// step with the reason wording the fusion engine produces.
type Mapper struct {
	sink Sink
	seq  *Sequence
	now  func() time.Time
	log  *slog.Logger
}

// MapperOption configures a Mapper.
type MapperOption func(*Mapper)

// WithClock overrides the mapper's time source. Tests use this for
// deterministic timestamps.
func WithClock(now func() time.Time) MapperOption {
	return func(m *Mapper) { m.now = now }
}

// WithLogger overrides the mapper's logger.
func WithLogger(log *slog.Logger) MapperOption {
	return func(m *Mapper) { m.log = log }
}

// NewMapper creates a mapper emitting to sink with a fresh id sequence.
func NewMapper(sink Sink, opts ...MapperOption) *Mapper {
	m := &Mapper{
		sink: sink,
		seq:  NewSequence(),
		now:  time.Now,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// emit stamps and appends one event. Sink failures are logged and dropped;
// they never propagate into frame processing.
func (m *Mapper) emit(name string, fields map[string]any) {
	data := map[string]any{"event_name": name}
	for k, v := range fields {
		data[k] = v
	}
	ev := Event{
		Timestamp: m.now().UTC().Format(time.RFC3339),
		EventID:   m.seq.NextID(),
		EventData: data,
	}
	if err := m.sink.Append(ev); err != nil {
		m.log.Error("audit: dropping event, sink append failed",
			"event_name", name, "event_id", ev.EventID, "error", err)
	}
}

// FromFusion derives audit events from a fusion result's reasons.
// lastPOS is the station's most recent POS observation, or nil.
func (m *Mapper) FromFusion(stationID string, reasons []string, lastPOS *frame.POSObservation) {
	for _, r := range reasons {
		switch {
		case strings.HasPrefix(r, "Vision") && strings.Contains(r, "not in POS"):
			m.emit(EventScannerAvoidance, map[string]any{
				"station_id":  stationID,
				"customer_id": customerID(lastPOS),
				"product_sku": preferPOSSKU(lastPOS, r),
			})

		case strings.HasPrefix(r, "Vision") && strings.Contains(r, "≠ POS"):
			m.emit(EventBarcodeSwitching, map[string]any{
				"station_id":  stationID,
				"customer_id": customerID(lastPOS),
				"actual_sku":  parseSKU(r),
				"scanned_sku": posSKU(lastPOS),
			})

		case strings.HasPrefix(r, "Weight delta"):
			// Weights come from the last POS observation's cached values,
			// not re-derived from the reason text.
			var expected, actual any
			if lastPOS != nil {
				if lastPOS.ExpectedWeight != nil {
					expected = *lastPOS.ExpectedWeight
				}
				if lastPOS.WeightG != nil {
					actual = *lastPOS.WeightG
				}
			}
			m.emit(EventWeightDiscrepancy, map[string]any{
				"station_id":      stationID,
				"customer_id":     customerID(lastPOS),
				"product_sku":     posSKU(lastPOS),
				"expected_weight": expected,
				"actual_weight":   actual,
			})
		}
	}
}

// FromStatus emits a crash event when a dataset status string matches the
// failure vocabulary. Healthy and empty statuses emit nothing.
// The true outage duration is not observable from the stream;
// duration_seconds is always 0.
func (m *Mapper) FromStatus(stationID, status string) {
	if status == "" || !failureVocab.MatchString(status) {
		return
	}
	m.emit(EventSystemsCrash, map[string]any{
		"station_id":       stationID,
		"duration_seconds": 0,
	})
}

// FromQueue emits the operational events for a fresh queue snapshot.
// Crossing the customer-count trigger additionally emits the paired
// staffing and station-action events.
func (m *Mapper) FromQueue(stationID string, q frame.QueueSnapshot) {
	if q.CustomerCount >= fusion.QueuePressureCustomers {
		m.emit(EventLongQueue, map[string]any{
			"station_id":       stationID,
			"num_of_customers": q.CustomerCount,
		})
		m.emit(EventStaffingNeeds, map[string]any{
			"station_id": stationID,
			"Staff_type": "Cashier",
		})
		m.emit(EventStationAction, map[string]any{
			"station_id": stationID,
			"Action":     "Open",
		})
	}
	if q.AverageDwellTime >= fusion.QueuePressureDwellSecs {
		m.emit(EventLongWait, map[string]any{
			"station_id":        stationID,
			"wait_time_seconds": q.AverageDwellTime,
		})
	}
}

// FromWatch emits an operator-watch event for a fired watch rule.
func (m *Mapper) FromWatch(stationID, rule string, score float64) {
	m.emit(EventOperatorWatch, map[string]any{
		"station_id": stationID,
		"rule":       rule,
		"score":      score,
	})
}

// EventCount returns the number of events emitted so far.
func (m *Mapper) EventCount() int {
	return m.seq.Count()
}

func customerID(p *frame.POSObservation) any {
	if p == nil || p.CustomerID == "" {
		return nil
	}
	return p.CustomerID
}

func posSKU(p *frame.POSObservation) any {
	if p == nil || p.SKU == "" {
		return nil
	}
	return p.SKU
}

// preferPOSSKU prefers the last-scanned SKU and falls back to a SKU token
// parsed out of the reason text.
func preferPOSSKU(p *frame.POSObservation, reason string) any {
	if p != nil && p.SKU != "" {
		return p.SKU
	}
	return parseSKU(reason)
}

func parseSKU(reason string) any {
	if m := skuPattern.FindString(reason); m != "" {
		return m
	}
	return nil
}
