// Package fusion computes the per-station risk score.
//
// Compute is a pure function over a station snapshot: it mutates nothing and
// touches no clock, which keeps recomputation after every frame cheap and
// replay deterministic. Rules are evaluated in a fixed order because that
// order defines the ordering of the reasons list; the score itself is a
// commutative sum of the fired weights, clamped to [0, 1].
package fusion

import (
	"fmt"
	"math"
	"strings"

	"github.com/basketproof/sentinel/internal/catalog"
	"github.com/basketproof/sentinel/internal/frame"
	"github.com/basketproof/sentinel/internal/station"
)

// Rule weights. Rules are independent and additive: multiple rules firing on
// the same event is expected, and compounding evidence raises the score
// faster than any single signal.
const (
	WeightScanAvoidance = 0.40
	WeightRFIDBonus     = 0.20
	WeightBarcodeSwitch = 0.30
	WeightMismatch      = 0.25
	WeightQueuePressure = 0.05
)

// Queue-pressure trigger levels, shared with the audit mapper so the fusion
// reason and the operational audit events can never disagree.
const (
	QueuePressureCustomers = 6
	QueuePressureDwellSecs = 120
)

// Thresholds are the tunable trigger levels for rule evaluation and
// incident emission.
type Thresholds struct {
	VisionConfidence   float64
	WeightTolerancePct float64
	Nudge              float64
	Hold               float64
}

// DefaultThresholds returns the standard trigger levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VisionConfidence:   0.85,
		WeightTolerancePct: 0.07,
		Nudge:              0.60,
		Hold:               0.85,
	}
}

// Result is the output of one evaluation pass.
//
// Reasons and Flags are derived independently from the same pass: the
// queue-pressure rule contributes a reason but no flag, so their lengths
// need not match.
type Result struct {
	Score   float64
	Reasons []string
	Flags   station.Flags
}

// Compute evaluates all rules against a station snapshot.
//
// Rule order: scan avoidance (with RFID bonus), barcode switching, weight
// mismatch, queue pressure.
func Compute(st station.State, th Thresholds, cat *catalog.Catalog) Result {
	var res Result

	vision := st.LastVision()
	pos := st.LastPOS()

	// 1. Scan avoidance: a confident vision detection whose product was
	// never scanned anywhere in the current POS window.
	if vision != nil && vision.PredictedProduct != "" && vision.Accuracy >= th.VisionConfidence {
		seenInPOS := false
		for _, p := range st.POS {
			if p.SKU == vision.PredictedProduct {
				seenInPOS = true
				break
			}
		}
		if !seenInPOS {
			res.Score += WeightScanAvoidance
			res.Reasons = append(res.Reasons,
				fmt.Sprintf("Vision %s@%.2f not in POS", vision.PredictedProduct, vision.Accuracy))
			res.Flags.ScanAvoidanceSKU = vision.PredictedProduct

			// Bonus: the same tag read on the customer/bag side. Only
			// evaluated when the base rule fired.
			if rfidInBagArea(st.RFID, vision.PredictedProduct) {
				res.Score += WeightRFIDBonus
				res.Reasons = append(res.Reasons, "RFID in scan/bag area for vision SKU")
			}
		}
	}

	// 2. Barcode switching: latest vision and latest POS disagree.
	// Independent of rule 1; both may fire for the same event.
	if vision != nil && vision.PredictedProduct != "" && pos != nil && pos.SKU != "" &&
		vision.PredictedProduct != pos.SKU {
		res.Score += WeightBarcodeSwitch
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("Vision %s ≠ POS %s", vision.PredictedProduct, pos.SKU))
		res.Flags.BarcodeSwitch = &station.SKUPair{
			Actual:  vision.PredictedProduct,
			Scanned: pos.SKU,
		}
	}

	// 3. Weight mismatch: only when the latest POS observation carries a
	// weight. Expected falls back to the catalog, then to the observed
	// value itself, which makes a mismatch impossible for unknown SKUs.
	if pos != nil && pos.WeightG != nil {
		observed := *pos.WeightG
		expected := observed
		switch {
		case pos.ExpectedWeight != nil && !math.IsNaN(*pos.ExpectedWeight) && !math.IsInf(*pos.ExpectedWeight, 0):
			expected = *pos.ExpectedWeight
		default:
			if w, ok := cat.ExpectedWeight(pos.SKU); ok {
				expected = w
			}
		}
		tolerance := th.WeightTolerancePct * expected
		if math.Abs(observed-expected) > tolerance {
			res.Score += WeightMismatch
			res.Reasons = append(res.Reasons,
				fmt.Sprintf("Weight delta %.0fg (obs=%g, exp=%g)", observed-expected, observed, expected))
			res.Flags.WeightMismatch = &station.WeightPair{Expected: expected, Actual: observed}
		}
	}

	// 4. Queue pressure: informational, no flag.
	if QueuePressured(st.Queue.CustomerCount, st.Queue.AverageDwellTime) {
		res.Score += WeightQueuePressure
		res.Reasons = append(res.Reasons, "High queue pressure")
	}

	res.Score = clamp(res.Score, 0.0, 1.0)
	return res
}

// QueuePressured reports whether a queue sample crosses either trigger level.
func QueuePressured(customers int, dwellSecs float64) bool {
	return customers >= QueuePressureCustomers || dwellSecs >= QueuePressureDwellSecs
}

// rfidInBagArea reports whether any buffered RFID read for the given SKU
// has a location on the customer/bag side (upper-cased location starts with
// "IN", e.g. "IN_SCAN_AREA", as opposed to shelf-side reads).
func rfidInBagArea(reads []frame.RFIDRead, sku string) bool {
	for _, r := range reads {
		if r.SKU == sku && strings.HasPrefix(strings.ToUpper(r.Location), "IN") {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
