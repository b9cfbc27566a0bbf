package replay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Trigger serves the replay trigger endpoints:
//
//	GET  /replay            list available scenarios
//	POST /replay/{name}     start a scenario replay
//
// Only one replay runs at a time; a second trigger while one is in flight
// is rejected with 409.
type Trigger struct {
	lib    *Library
	runner *Runner
	log    *slog.Logger
	busy   atomic.Bool

	// base context for in-flight replays, so server shutdown stops them.
	ctx context.Context
}

// NewTrigger creates the HTTP trigger surface. Replays started by it are
// bound to ctx.
func NewTrigger(ctx context.Context, lib *Library, runner *Runner, log *slog.Logger) *Trigger {
	if log == nil {
		log = slog.Default()
	}
	return &Trigger{lib: lib, runner: runner, log: log, ctx: ctx}
}

// Register installs the trigger's routes on mux.
func (t *Trigger) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /replay", t.handleList)
	mux.HandleFunc("POST /replay/{name}", t.handleStart)
}

func (t *Trigger) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := t.lib.Names()
	if err != nil {
		t.log.Error("replay: listing scenarios failed", "error", err)
		http.Error(w, "scenario library unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": names})
}

func (t *Trigger) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	frames, err := t.lib.Load(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": "unknown scenario", "scenario": name,
			})
			return
		}
		t.log.Error("replay: loading scenario failed", "scenario", name, "error", err)
		http.Error(w, "scenario load failed", http.StatusInternalServerError)
		return
	}

	if !t.busy.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "replay already in progress",
		})
		return
	}

	go func() {
		defer t.busy.Store(false)
		t.runner.Run(t.ctx, name, frames)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"scenario": name,
		"frames":   len(frames),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
