// Package replay loads recorded scenario files and feeds them through the
// pipeline at a fixed pace, for demos and offline analysis.
//
// A scenario is a JSONL file of frames, one per line, named
// <scenario>.jsonl inside the library directory.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/basketproof/sentinel/internal/frame"
)

// DefaultDelay is the pause between replayed frames.
const DefaultDelay = 45 * time.Millisecond

// ErrNotFound reports an unknown scenario name.
var ErrNotFound = errors.New("replay: scenario not found")

// namePattern restricts scenario names to safe file stems.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Library is a directory of scenario files.
type Library struct {
	dir string
	log *slog.Logger
}

// NewLibrary opens the scenario directory at dir.
func NewLibrary(dir string, log *slog.Logger) *Library {
	if log == nil {
		log = slog.Default()
	}
	return &Library{dir: dir, log: log}
}

// Names lists the available scenario names, sorted.
func (l *Library) Names() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("replay: list scenarios: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads the named scenario. Banner lines and malformed lines are
// skipped with a warning; a scenario that decodes to zero frames is still
// a valid, empty scenario.
func (l *Library) Load(name string) ([]frame.Frame, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	f, err := os.Open(filepath.Join(l.dir, name+".jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("replay: open scenario %q: %w", name, err)
	}
	defer f.Close()

	var frames []frame.Frame
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, ok := frame.DecodeBanner(line); ok {
			continue
		}
		fr, err := frame.Decode(line)
		if err != nil {
			l.log.Warn("replay: skipping malformed line",
				"scenario", name, "error", err)
			continue
		}
		frames = append(frames, fr)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read scenario %q: %w", name, err)
	}
	return frames, nil
}

// FrameSink receives replayed frames.
type FrameSink interface {
	Enqueue(f frame.Frame) bool
}

// Runner paces frames into a sink.
type Runner struct {
	sink  FrameSink
	delay time.Duration
	log   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDelay overrides the inter-frame pause. Zero disables pacing.
func WithDelay(d time.Duration) RunnerOption {
	return func(r *Runner) { r.delay = d }
}

// WithLogger overrides the runner's logger.
func WithLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// NewRunner creates a runner feeding sink.
func NewRunner(sink FrameSink, opts ...RunnerOption) *Runner {
	r := &Runner{sink: sink, delay: DefaultDelay, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run feeds frames into the sink, pausing between each. It returns the
// number of frames delivered, stopping early if the context ends or the
// sink shuts down.
func (r *Runner) Run(ctx context.Context, name string, frames []frame.Frame) int {
	r.log.Info("replay: starting", "scenario", name, "frames", len(frames))

	sent := 0
	for i, f := range frames {
		if i > 0 && r.delay > 0 {
			t := time.NewTimer(r.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				r.log.Warn("replay: cancelled",
					"scenario", name, "sent", sent, "total", len(frames))
				return sent
			case <-t.C:
			}
		}
		if !r.sink.Enqueue(f) {
			r.log.Warn("replay: sink closed",
				"scenario", name, "sent", sent, "total", len(frames))
			return sent
		}
		sent++
	}

	r.log.Info("replay: finished", "scenario", name, "frames", sent)
	return sent
}
