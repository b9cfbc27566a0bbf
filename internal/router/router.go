// Package router dispatches inbound telemetry frames into the fusion
// pipeline.
//
// The router is a single-writer event loop: frames are enqueued from any
// goroutine (ingestion transport, replay triggers) and processed strictly
// in arrival order by the one goroutine running Run. That serializes all
// state mutation for every station at once, and guarantees each frame's
// mutate-fuse-emit sequence is atomic with respect to the state the fusion
// engine sees.
package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/basketproof/sentinel/internal/alert"
	"github.com/basketproof/sentinel/internal/audit"
	"github.com/basketproof/sentinel/internal/catalog"
	"github.com/basketproof/sentinel/internal/frame"
	"github.com/basketproof/sentinel/internal/fusion"
	"github.com/basketproof/sentinel/internal/rules"
	"github.com/basketproof/sentinel/internal/station"
)

// Dataset identifiers, matched case-insensitively by substring against the
// frame's dataset name. Frames matching none are dropped silently, which
// keeps the router forward-compatible with dataset types it has never heard
// of.
const (
	datasetPOS       = "pos_transactions"
	datasetRFID      = "rfid"
	datasetVision    = "product_recogni" // covers both recognition and the upstream "recognism" typo
	datasetQueue     = "queue_monitor"
	datasetInventory = "inventory"
)

// Broadcaster receives the router's fire-and-forget outputs.
// Implemented by broadcast.Hub in production and by collectors in tests and
// offline replay.
type Broadcaster interface {
	Live(stationID string, st station.State)
	Incident(inc alert.Incident)
}

// Router wires the state store, fusion engine and mapper together and owns
// the frame queue.
type Router struct {
	store      *station.Store
	catalog    *catalog.Catalog
	thresholds fusion.Thresholds
	mapper     *audit.Mapper
	caster     Broadcaster // may be nil (offline replay)
	watch      *rules.Set  // may be nil
	queue      *frameQueue
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithBroadcaster attaches a live/incident broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(r *Router) { r.caster = b }
}

// WithWatchRules attaches compiled operator watch rules.
func WithWatchRules(set *rules.Set) Option {
	return func(r *Router) { r.watch = set }
}

// WithClock overrides the router's time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router.
func New(store *station.Store, cat *catalog.Catalog, th fusion.Thresholds, mapper *audit.Mapper, opts ...Option) *Router {
	r := &Router{
		store:      store,
		catalog:    cat,
		thresholds: th,
		mapper:     mapper,
		queue:      newFrameQueue(),
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue submits a frame for processing by the Run loop.
// Safe from any goroutine. Returns false once the router is stopped.
func (r *Router) Enqueue(f frame.Frame) bool {
	return r.queue.Enqueue(f)
}

// Run starts the single-writer loop. It blocks until the context is
// cancelled or Stop is called, draining the queue in FIFO order.
// Must be called from exactly one goroutine.
func (r *Router) Run(ctx context.Context) error {
	r.log.Info("router: starting")

	for {
		f, ok := r.queue.TryDequeue()
		if ok {
			r.Route(f)
			continue
		}

		select {
		case <-ctx.Done():
			r.log.Info("router: stopping, context cancelled")
			r.queue.Close()
			return ctx.Err()

		case <-r.queue.Wait():
			// A coalesced wakeup can arrive after the fast path already
			// drained the frame. Only a closed, empty queue ends the loop.
			if r.queue.Closed() && r.queue.Len() == 0 {
				r.log.Info("router: stopping, queue closed")
				return nil
			}
		}
	}
}

// Stop closes the frame queue, causing Run to return once drained.
func (r *Router) Stop() {
	r.queue.Close()
}

// Route processes one frame to completion: mutate the station state,
// recompute fusion, and emit audit events, incidents and live state.
//
// Route is the single mutation path. Outside the Run loop it may only be
// called from one goroutine at a time (offline replay does this).
func (r *Router) Route(f frame.Frame) {
	ds := strings.ToLower(f.Dataset)
	stationID := station.Normalize(f.Event.StationID)

	switch {
	case strings.Contains(ds, datasetPOS):
		obs := frame.DecodePOS(f.Event.Data)
		r.attachExpectedWeight(&obs)
		r.store.AppendPOS(stationID, obs)
		r.mapper.FromStatus(stationID, f.Event.Status)
		r.recompute(stationID)

	case strings.Contains(ds, datasetRFID):
		r.store.AppendRFID(stationID, frame.DecodeRFID(f.Event.Data))
		r.mapper.FromStatus(stationID, f.Event.Status)
		r.recompute(stationID)

	case strings.Contains(ds, datasetVision):
		r.store.AppendVision(stationID, frame.DecodeVision(f.Event.Data))
		r.mapper.FromStatus(stationID, f.Event.Status)
		r.recompute(stationID)

	case strings.Contains(ds, datasetQueue):
		q := frame.DecodeQueue(f.Event.Data)
		r.store.SetQueue(stationID, q)
		r.mapper.FromStatus(stationID, f.Event.Status)
		r.mapper.FromQueue(stationID, q)
		r.recompute(stationID)

	case strings.Contains(ds, datasetInventory):
		// Recognized but carries no per-station evidence; status failures
		// are still worth auditing.
		r.mapper.FromStatus(stationID, f.Event.Status)
		r.log.Debug("router: inventory snapshot", "dataset", f.Dataset)

	default:
		r.log.Debug("router: dropping unknown dataset", "dataset", f.Dataset)
	}
}

// attachExpectedWeight resolves the catalog weight for a fresh POS
// observation, unless the upstream already attached one.
func (r *Router) attachExpectedWeight(obs *frame.POSObservation) {
	if obs.SKU == "" || obs.ExpectedWeight != nil {
		return
	}
	if w, ok := r.catalog.ExpectedWeight(obs.SKU); ok {
		obs.ExpectedWeight = &w
	}
}

// recompute runs one fusion pass for a station and fans out the result.
// All emission is fire-and-forget: a failing sink is the sink's problem.
func (r *Router) recompute(stationID string) {
	snap := r.store.Snapshot(stationID)
	res := fusion.Compute(snap, r.thresholds, r.catalog)
	r.store.SetResult(stationID, res.Score, res.Reasons, res.Flags)

	r.mapper.FromFusion(stationID, res.Reasons, snap.LastPOS())

	if fired := r.watch.Evaluate(rules.Snapshot{
		Station:        stationID,
		Score:          res.Score,
		Reasons:        res.Reasons,
		POSCount:       len(snap.POS),
		RFIDCount:      len(snap.RFID),
		VisionCount:    len(snap.Vision),
		QueueCustomers: snap.Queue.CustomerCount,
		QueueDwell:     snap.Queue.AverageDwellTime,
	}); len(fired) > 0 {
		for _, name := range fired {
			r.mapper.FromWatch(stationID, name, res.Score)
		}
	}

	if r.caster == nil {
		return
	}
	if inc := alert.Evaluate(stationID, res, r.thresholds, r.now()); inc != nil {
		r.caster.Incident(*inc)
	}
	r.caster.Live(stationID, r.store.Snapshot(stationID))
}
