package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind error
	}{
		{"config", Configf("nx=%d", 3), ErrConfiguration},
		{"invariant", Invariantf("nil data in %s", "A-L0"), ErrInvariantViolation},
		{"freed", UseAfterFreef("matrix %s", "A-L1"), ErrUseAfterFree},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, errors.Is(tc.err, tc.kind))
			assert.Contains(t, tc.err.Error(), tc.kind.Error())
		})
	}
	assert.False(t, errors.Is(Configf("x"), ErrUseAfterFree))
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() { Must(nil) })
	assert.Panics(t, func() { Must(Configf("odd extent")) })
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(&buf, "json", slog.LevelInfo).WithLevel(2).WithShard(3)
	lg.Debug("hidden")
	lg.Info("built")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %s", out)
	}
	assert.Contains(t, out, `"grid_level":2`)
	assert.Contains(t, out, `"shard":3`)

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	NoopLogger().Info("discarded")
}
