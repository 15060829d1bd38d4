package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/backfill"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "worker", "backfill", "migrate"}, names)
}

func TestBackfillDryRunOnEmptyLake(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"backfill", "--dry-run", "--max", "5"})

	require.NoError(t, root.Execute())

	var report backfill.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.OK)
	assert.True(t, report.DryRun)
	assert.Zero(t, report.GoldKeys)
}

func TestMigrateWithoutDatabase(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"migrate"})
	require.NoError(t, root.Execute())
}
