package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/basketproof/sentinel/internal/alert"
	"github.com/basketproof/sentinel/internal/audit"
	"github.com/basketproof/sentinel/internal/catalog"
	"github.com/basketproof/sentinel/internal/config"
	"github.com/basketproof/sentinel/internal/replay"
	"github.com/basketproof/sentinel/internal/router"
	"github.com/basketproof/sentinel/internal/rules"
	"github.com/basketproof/sentinel/internal/station"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	ScenarioDir string
	Catalog     string
	AuditPath   string
}

// ReplayStationResult holds the final state of one station after replay.
type ReplayStationResult struct {
	Station string   `json:"station"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// ReplayReport holds the overall replay result.
type ReplayReport struct {
	Scenario    string                `json:"scenario"`
	Frames      int                   `json:"frames"`
	Stations    []ReplayStationResult `json:"stations"`
	Nudges      int                   `json:"nudges"`
	Holds       int                   `json:"holds"`
	AuditEvents int                   `json:"audit_events"`
}

// incidentTally counts incidents without broadcasting them anywhere.
type incidentTally struct {
	nudges int
	holds  int
}

func (c *incidentTally) Incident(inc alert.Incident) {
	switch inc.Type {
	case alert.TypeHold:
		c.holds++
	default:
		c.nudges++
	}
}

func (c *incidentTally) Live(stationID string, st station.State) {}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario>",
		Short: "Run a recorded scenario offline and report detections",
		Long: `Run a recorded scenario offline and report detections.

Frames are processed in order with no pacing and no network. The report
lists each station's final risk score, the incidents that would have
fired, and how many audit events were emitted.

Exit codes:
  0 - Scenario processed cleanly
  2 - Command error (unknown scenario, bad catalog, etc.)

Examples:
  sentinel replay normal-shopping --scenarios ./scenarios
  sentinel replay theft-spree --catalog products.csv --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplayScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ScenarioDir, "scenarios", "", "scenario directory (overrides config)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "product catalog CSV (overrides config)")
	cmd.Flags().StringVar(&opts.AuditPath, "audit-log", "", "also append audit events to this JSONL file")

	return cmd
}

func runReplayScenario(opts *ReplayOptions, name string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.ScenarioDir != "" {
		cfg.ScenarioDir = opts.ScenarioDir
	}
	if opts.Catalog != "" {
		cfg.CatalogPath = opts.Catalog
	}

	lib := replay.NewLibrary(cfg.ScenarioDir, nil)
	frames, err := lib.Load(name)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load scenario %q", name), err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	watch, err := rules.Compile(cfg.WatchRules)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile watch rules", err)
	}

	var sink audit.Sink = &audit.MemorySink{}
	if opts.AuditPath != "" {
		w := audit.NewWriter(opts.AuditPath)
		defer w.Close()
		sink = w
	}
	mapper := audit.NewMapper(sink)

	tally := &incidentTally{}
	store := station.NewStore()
	rt := router.New(store, cat, cfg.FusionThresholds(), mapper,
		router.WithBroadcaster(tally),
		router.WithWatchRules(watch),
	)

	// Offline: no Run loop, no pacing. Route is called from this one
	// goroutine only.
	for _, f := range frames {
		rt.Route(f)
	}

	report := ReplayReport{
		Scenario:    name,
		Frames:      len(frames),
		Nudges:      tally.nudges,
		Holds:       tally.holds,
		AuditEvents: mapper.EventCount(),
	}
	ids := store.StationIDs()
	sort.Strings(ids)
	for _, id := range ids {
		snap := store.Snapshot(id)
		report.Stations = append(report.Stations, ReplayStationResult{
			Station: id,
			Score:   snap.Score,
			Reasons: snap.Reasons,
		})
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scenario %s: %d frames, %d stations\n",
		report.Scenario, report.Frames, len(report.Stations))
	for _, st := range report.Stations {
		fmt.Fprintf(out, "  %-10s score %.2f", st.Station, st.Score)
		if len(st.Reasons) > 0 {
			fmt.Fprintf(out, "  (%d reasons)", len(st.Reasons))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Incidents: %d nudge, %d hold\n", report.Nudges, report.Holds)
	fmt.Fprintf(out, "Audit events: %d\n", report.AuditEvents)
	return nil
}
