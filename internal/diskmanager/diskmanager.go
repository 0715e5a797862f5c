// Package diskmanager checks that the output filesystem can hold a recording.
package diskmanager

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/opusrec/internal/errors"
)

// MiB is one mebibyte in bytes
const MiB = 1 << 20

// containerOverhead approximates WebM framing per second of audio
const containerOverhead = 512

// DiskSpaceInfo holds disk space information for one filesystem.
type DiskSpaceInfo struct {
	Path       string
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64 // available to the current user
}

// GetDetailedDiskUsage returns the space of the filesystem containing path.
func GetDetailedDiskUsage(path string) (DiskSpaceInfo, error) {
	start := time.Now()
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskSpaceInfo{}, errors.New(fmt.Errorf("failed to get disk usage: %w", err)).
			Component("diskmanager").
			Category(errors.CategoryDiskUsage).
			Context("operation", "get_disk_usage").
			FileContext(path, 0).
			Timing("disk_usage_check", time.Since(start)).
			Build()
	}

	return DiskSpaceInfo{
		Path:       usage.Path,
		TotalBytes: usage.Total,
		UsedBytes:  usage.Used,
		FreeBytes:  usage.Free,
	}, nil
}

// EstimateBytes is the expected output size for d of audio at bitrate
func EstimateBytes(bitrate int, d time.Duration) uint64 {
	if bitrate <= 0 || d <= 0 {
		return 0
	}
	seconds := d.Seconds()
	return uint64(seconds*float64(bitrate)/8 + seconds*containerOverhead)
}

// CheckOutputSpace verifies that the directory of output has at least need
// bytes available. need of zero always passes without touching the disk.
func CheckOutputSpace(output string, need uint64) (DiskSpaceInfo, error) {
	if need == 0 {
		return DiskSpaceInfo{}, nil
	}

	dir := filepath.Dir(output)
	info, err := GetDetailedDiskUsage(dir)
	if err != nil {
		return info, err
	}

	if info.FreeBytes < need {
		return info, errors.Newf("insufficient disk space: %d MiB free, %d MiB required", info.FreeBytes/MiB, need/MiB).
			Component("diskmanager").
			Category(errors.CategoryResource).
			Context("operation", "check_output_space").
			Context("free_bytes", info.FreeBytes).
			Context("required_bytes", need).
			Build()
	}

	return info, nil
}
