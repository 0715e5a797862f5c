package diskmanager

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/opusrec/internal/errors"
)

func TestGetDetailedDiskUsage(t *testing.T) {
	t.Parallel()

	info, err := GetDetailedDiskUsage(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, info.TotalBytes)
	assert.LessOrEqual(t, info.FreeBytes, info.TotalBytes)
}

func TestGetDetailedDiskUsageMissingPath(t *testing.T) {
	t.Parallel()

	_, err := GetDetailedDiskUsage(filepath.Join(t.TempDir(), "missing", "dir"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDiskUsage))
}

func TestEstimateBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		bitrate int
		d       time.Duration
		want    uint64
	}{
		{"zero duration", 64000, 0, 0},
		{"zero bitrate", 0, time.Hour, 0},
		{"one second", 64000, time.Second, 8000 + containerOverhead},
		{"one hour", 64000, time.Hour, 3600 * (8000 + containerOverhead)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EstimateBytes(tt.bitrate, tt.d))
		})
	}
}

func TestCheckOutputSpace(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "out.webm")

	_, err := CheckOutputSpace(output, 0)
	require.NoError(t, err)

	info, err := CheckOutputSpace(output, 1)
	require.NoError(t, err)
	assert.Positive(t, info.FreeBytes)

	_, err = CheckOutputSpace(output, math.MaxUint64)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryResource))
	assert.Contains(t, err.Error(), "insufficient disk space")
}
