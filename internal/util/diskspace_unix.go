//go:build !windows

package util

import (
	"syscall"
)

const lowDiskGB = 2.0

type DiskSpaceInfo struct {
	AvailGB float64
	TotalGB float64
	UsedGB  float64
}

// GetDiskSpace reports the filesystem holding path.
func GetDiskSpace(path string) (DiskSpaceInfo, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskSpaceInfo{}, err
	}
	const gb = 1024 * 1024 * 1024
	avail := float64(stat.Bavail*uint64(stat.Bsize)) / gb
	total := float64(stat.Blocks*uint64(stat.Bsize)) / gb
	return DiskSpaceInfo{
		AvailGB: avail,
		TotalGB: total,
		UsedGB:  total - avail,
	}, nil
}
