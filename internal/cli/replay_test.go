package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const theftScenario = `{"dataset":"POS_Transactions","event":{"station_id":"S1","data":{"sku":"PRD_A_01","weight_g":100,"customer_id":"C001"}}}
{"dataset":"Product_recognition","event":{"station_id":"S1","data":{"predicted_product":"PRD_B_02","accuracy":0.92}}}
{"dataset":"Queue_monitor","event":{"station_id":"S2","data":{"customer_count":2,"average_dwell_time":30}}}
`

func writeReplayFixtures(t *testing.T) (scenarioDir, catalogPath string) {
	t.Helper()
	scenarioDir = t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(scenarioDir, "theft-spree.jsonl"), []byte(theftScenario), 0o644))

	catalogPath = filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(catalogPath, []byte("SKU,weight_g\nPRD_A_01,100\n"), 0o644))
	return scenarioDir, catalogPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplayCommand_Text(t *testing.T) {
	scenarios, catalogPath := writeReplayFixtures(t)

	out, err := execute(t, "replay", "theft-spree",
		"--scenarios", scenarios, "--catalog", catalogPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Scenario theft-spree: 3 frames, 2 stations")
	assert.Contains(t, out, "Incidents: 1 nudge, 0 hold")
	assert.Contains(t, out, "S1")
	assert.Contains(t, out, "S2")
}

func TestReplayCommand_JSON(t *testing.T) {
	scenarios, catalogPath := writeReplayFixtures(t)

	out, err := execute(t, "replay", "theft-spree", "--format", "json",
		"--scenarios", scenarios, "--catalog", catalogPath)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report ReplayReport
	require.NoError(t, json.Unmarshal(raw, &report))

	assert.Equal(t, "theft-spree", report.Scenario)
	assert.Equal(t, 3, report.Frames)
	assert.Equal(t, 1, report.Nudges)
	assert.Equal(t, 0, report.Holds)
	require.Len(t, report.Stations, 2)
	assert.Equal(t, "S1", report.Stations[0].Station)
	assert.GreaterOrEqual(t, report.Stations[0].Score, 0.70)
	assert.Len(t, report.Stations[0].Reasons, 2)
	// Two fusion events plus nothing for the calm queue at S2.
	assert.Equal(t, 2, report.AuditEvents)
}

func TestReplayCommand_WritesAuditTrail(t *testing.T) {
	scenarios, catalogPath := writeReplayFixtures(t)
	auditPath := filepath.Join(t.TempDir(), "events.jsonl")

	_, err := execute(t, "replay", "theft-spree",
		"--scenarios", scenarios, "--catalog", catalogPath, "--audit-log", auditPath)
	require.NoError(t, err)

	raw, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Scanner Avoidance")
	assert.Contains(t, string(raw), "Barcode Switching")
}

func TestReplayCommand_UnknownScenario(t *testing.T) {
	scenarios, catalogPath := writeReplayFixtures(t)

	_, err := execute(t, "replay", "no-such-thing",
		"--scenarios", scenarios, "--catalog", catalogPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCatalogCommand(t *testing.T) {
	_, catalogPath := writeReplayFixtures(t)

	out, err := execute(t, "catalog", catalogPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 products")

	_, err = execute(t, "catalog", filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
