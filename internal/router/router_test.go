package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketproof/sentinel/internal/alert"
	"github.com/basketproof/sentinel/internal/audit"
	"github.com/basketproof/sentinel/internal/catalog"
	"github.com/basketproof/sentinel/internal/frame"
	"github.com/basketproof/sentinel/internal/fusion"
	"github.com/basketproof/sentinel/internal/rules"
	"github.com/basketproof/sentinel/internal/station"
)

// collector records broadcasts for assertions.
type collector struct {
	mu        sync.Mutex
	incidents []alert.Incident
	live      int
}

func (c *collector) Incident(inc alert.Incident) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incidents = append(c.incidents, inc)
}

func (c *collector) Live(stationID string, st station.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live++
}

func (c *collector) Incidents() []alert.Incident {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Incident(nil), c.incidents...)
}

func (c *collector) LiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func testCatalog(t *testing.T, rows string) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte("SKU,weight_g\n"+rows), 0o644))
	cat, err := catalog.Load(path)
	require.NoError(t, err)
	return cat
}

func dataFrame(dataset, stationID string, data any) frame.Frame {
	raw, _ := json.Marshal(data)
	return frame.Frame{
		Dataset: dataset,
		Event:   frame.Event{StationID: stationID, Data: raw},
	}
}

func newTestRouter(t *testing.T, cat *catalog.Catalog, opts ...Option) (*Router, *station.Store, *audit.MemorySink, *collector) {
	t.Helper()
	store := station.NewStore()
	sink := &audit.MemorySink{}
	caster := &collector{}
	ts := time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)
	mapper := audit.NewMapper(sink, audit.WithClock(func() time.Time { return ts }))

	opts = append([]Option{
		WithBroadcaster(caster),
		WithClock(func() time.Time { return ts }),
	}, opts...)
	r := New(store, cat, fusion.DefaultThresholds(), mapper, opts...)
	return r, store, sink, caster
}

func eventNames(evs []audit.Event) []string {
	names := make([]string, 0, len(evs))
	for _, ev := range evs {
		names = append(names, ev.EventData["event_name"].(string))
	}
	return names
}

// TestRoute_ScanAvoidanceScenario is the end-to-end detection scenario:
// a scanned item followed by a confident vision detection of a different,
// never-scanned product.
func TestRoute_ScanAvoidanceScenario(t *testing.T) {
	cat := testCatalog(t, "PRD_A_01,100\n")
	r, store, sink, caster := newTestRouter(t, cat)

	r.Route(dataFrame("POS_Transactions", "S1", map[string]any{
		"sku": "PRD_A_01", "weight_g": 100.0,
	}))
	r.Route(dataFrame("Product_recognition", "S1", map[string]any{
		"predicted_product": "PRD_B_02", "accuracy": 0.92,
	}))

	snap := store.Snapshot("S1")
	assert.GreaterOrEqual(t, snap.Score, 0.70)
	require.Len(t, snap.Reasons, 2)

	names := eventNames(sink.Events())
	assert.Contains(t, names, audit.EventScannerAvoidance)
	assert.Contains(t, names, audit.EventBarcodeSwitching)

	incs := caster.Incidents()
	require.Len(t, incs, 1)
	// 0.70 crosses nudge (0.60) but not hold (0.85).
	assert.Equal(t, alert.TypeNudge, incs[0].Type)
	assert.Len(t, incs[0].Evidence, 2)
}

func TestRoute_ExpectedWeightAttachedFromCatalog(t *testing.T) {
	cat := testCatalog(t, "PRD_A_01,100\n")
	r, store, sink, _ := newTestRouter(t, cat)

	r.Route(dataFrame("pos_transactions", "S1", map[string]any{
		"sku": "PRD_A_01", "weight_g": 130.0, "customer_id": "C001",
	}))

	snap := store.Snapshot("S1")
	require.Len(t, snap.POS, 1)
	require.NotNil(t, snap.POS[0].ExpectedWeight)
	assert.Equal(t, 100.0, *snap.POS[0].ExpectedWeight)

	// |130-100| > 7% of 100, so the mismatch fires and is audited with the
	// cached weights.
	evs := sink.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventWeightDiscrepancy, evs[0].EventData["event_name"])
	assert.Equal(t, 100.0, evs[0].EventData["expected_weight"])
	assert.Equal(t, 130.0, evs[0].EventData["actual_weight"])
}

func TestRoute_UnknownDatasetDroppedSilently(t *testing.T) {
	r, store, sink, caster := newTestRouter(t, catalog.Empty())

	r.Route(dataFrame("Thermal_Imaging", "S1", map[string]any{"temp": 36.5}))

	assert.Empty(t, store.StationIDs())
	assert.Empty(t, sink.Events())
	assert.Zero(t, caster.LiveCount())
}

func TestRoute_BlankStationUsesSentinel(t *testing.T) {
	r, store, _, _ := newTestRouter(t, catalog.Empty())

	r.Route(dataFrame("RFID_data", "", map[string]any{
		"sku": "PRD_A_01", "location": "IN_SCAN_AREA",
	}))

	assert.Equal(t, []string{station.DefaultStationID}, store.StationIDs())
}

func TestRoute_QueueFrameEmitsOperationalEvents(t *testing.T) {
	r, store, sink, _ := newTestRouter(t, catalog.Empty())

	r.Route(dataFrame("Queue_monitor", "S1", map[string]any{
		"customer_count": 7, "average_dwell_time": 130.0,
	}))

	snap := store.Snapshot("S1")
	assert.Equal(t, 7, snap.Queue.CustomerCount)
	// Queue pressure contributes to the score too.
	assert.InDelta(t, fusion.WeightQueuePressure, snap.Score, 1e-9)

	names := eventNames(sink.Events())
	assert.Equal(t, []string{
		audit.EventLongQueue,
		audit.EventStaffingNeeds,
		audit.EventStationAction,
		audit.EventLongWait,
	}, names)
}

func TestRoute_StatusFailureAudited(t *testing.T) {
	r, _, sink, _ := newTestRouter(t, catalog.Empty())

	f := dataFrame("POS_Transactions", "S1", map[string]any{"sku": "PRD_A_01"})
	f.Event.Status = "Scanner Read Error"
	r.Route(f)

	names := eventNames(sink.Events())
	assert.Contains(t, names, audit.EventSystemsCrash)
}

func TestRoute_RepeatedFramesRepeatAuditLines(t *testing.T) {
	// The audit log is a raw evidentiary trail: no deduplication.
	r, _, sink, _ := newTestRouter(t, catalog.Empty())

	vision := dataFrame("product_recognition", "S1", map[string]any{
		"predicted_product": "PRD_B_02", "accuracy": 0.95,
	})
	r.Route(vision)
	r.Route(vision)

	names := eventNames(sink.Events())
	count := 0
	for _, n := range names {
		if n == audit.EventScannerAvoidance {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestRoute_WatchRules(t *testing.T) {
	set, err := rules.Compile([]rules.Rule{
		{Name: "hot-station", Expr: "Score >= 0.3"},
	})
	require.NoError(t, err)

	r, _, sink, _ := newTestRouter(t, catalog.Empty(), WithWatchRules(set))

	r.Route(dataFrame("POS_Transactions", "S1", map[string]any{"sku": "PRD_A_01"}))
	r.Route(dataFrame("product_recognition", "S1", map[string]any{
		"predicted_product": "PRD_B_02", "accuracy": 0.95,
	}))

	names := eventNames(sink.Events())
	assert.Contains(t, names, audit.EventOperatorWatch)
}

func TestRoute_LiveBroadcastAfterEveryMutation(t *testing.T) {
	r, _, _, caster := newTestRouter(t, catalog.Empty())

	r.Route(dataFrame("POS_Transactions", "S1", map[string]any{"sku": "PRD_A_01"}))
	r.Route(dataFrame("RFID_data", "S1", map[string]any{"sku": "PRD_A_01", "location": "IN_BAG"}))
	r.Route(dataFrame("Queue_monitor", "S1", map[string]any{"customer_count": 2}))

	assert.Equal(t, 3, caster.LiveCount())
}

func TestRun_ProcessesInArrivalOrder(t *testing.T) {
	r, store, _, _ := newTestRouter(t, catalog.Empty())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for i := 0; i < station.POSBound+2; i++ {
		ok := r.Enqueue(dataFrame("POS_Transactions", "S1", map[string]any{
			"sku": fmt.Sprintf("PRD_F_%02d", i),
		}))
		require.True(t, ok)
	}

	require.Eventually(t, func() bool {
		return r.queue.Len() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	snap := store.Snapshot("S1")
	require.Len(t, snap.POS, station.POSBound)
	// FIFO: the two oldest scans were evicted, the newest is last.
	assert.Equal(t, "PRD_F_02", snap.POS[0].SKU)
	assert.Equal(t, fmt.Sprintf("PRD_F_%02d", station.POSBound+1), snap.POS[station.POSBound-1].SKU)
}

func TestEnqueue_AfterStopReturnsFalse(t *testing.T) {
	r, _, _, _ := newTestRouter(t, catalog.Empty())
	r.Stop()
	assert.False(t, r.Enqueue(frame.Frame{Dataset: "POS_Transactions"}))
}
