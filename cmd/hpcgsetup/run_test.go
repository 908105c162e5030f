package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/notargets/HPCGKernel/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	cfg := config.Default()
	cfg.Nx, cfg.Ny, cfg.Nz = 8, 8, 8
	cfg.Shards = 3
	cfg.Levels = 3
	cfg.LogFormat = "json"

	var logs bytes.Buffer
	summary, err := run(context.Background(), cfg, &logs)
	require.NoError(t, err)
	require.Len(t, summary.Levels, 3)

	assert.Equal(t, "A-L0", summary.Levels[0].Name)
	assert.Equal(t, "8x8x8", summary.Levels[0].Geometry)
	assert.Equal(t, int64(512), summary.Levels[0].Rows)
	assert.Equal(t, int64(22*22*22), summary.Levels[0].Nonzeros)
	assert.Equal(t, int64(8), summary.Levels[2].Rows)
	for _, ls := range summary.Levels {
		assert.Equal(t, ls.ExternalValues, ls.ValuesSent)
	}
	assert.Positive(t, summary.MetricSeries)
	assert.Contains(t, logs.String(), `"msg":"setup complete"`)

	var out bytes.Buffer
	summary.Print(&out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[1], "A-L0"))
}

func TestRunStopsAtOddExtent(t *testing.T) {
	cfg := config.Default()
	cfg.Nx, cfg.Ny, cfg.Nz = 4, 4, 6
	cfg.Levels = 5

	var logs bytes.Buffer
	summary, err := run(context.Background(), cfg, &logs)
	require.NoError(t, err)
	assert.Len(t, summary.Levels, 2)
	assert.Contains(t, logs.String(), "grid cannot be halved further")
}

func TestRootCommandFlagsOverrideConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"--nx", "4", "--ny", "4", "--nz", "4", "-n", "2", "-l", "2", "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "A-L1")
	assert.Contains(t, out.String(), "2x2x2")
	assert.Empty(t, errOut.String())
}
