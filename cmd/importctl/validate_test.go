package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateDryRunWritesReport(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "receipts.csv")
	require.NoError(t, os.WriteFile(input, []byte(strings.Join([]string{
		"GRN No,Item Code,Qty,Rate,Date",
		"GRN-1,RM-1,10,5,2024-04-02",
		"GRN-2,,4,12.5,2024-04-03",
		"GRN-1,RM-1,10,5,2024-04-02",
	}, "\n")+"\n"), 0o600))
	report := filepath.Join(dir, "report.csv")

	out, err := runCLI(t, "validate", input,
		"--config", dir,
		"--org", uuid.NewString(),
		"--type", "grn",
		"--items", "RM-1",
		"--report", report)
	require.NoError(t, err, out)

	assert.Contains(t, out, "STAGED")
	assert.Contains(t, out, "rows: 3 total")
	assert.Contains(t, out, "1 invalid, 1 duplicate")
	assert.Contains(t, out, "report written to "+report)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
}

func TestValidateRequiresOrganization(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "stock.csv")
	require.NoError(t, os.WriteFile(input, []byte("Item Code,Qty,Warehouse\nRM-1,5,Main\n"), 0o600))

	_, err := runCLI(t, "validate", input, "--config", dir, "--type", "opening_stock")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--org is required")
}

func TestLifecycleCommandsRejectBadSessionID(t *testing.T) {
	for _, name := range []string{"approve", "process", "report"} {
		_, err := runCLI(t, name, "not-a-uuid", "--org", uuid.NewString())
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "invalid session id", name)
	}
}
