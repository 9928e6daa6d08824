//go:build windows

package util

import (
	"syscall"
	"unsafe"
)

const lowDiskGB = 2.0

type DiskSpaceInfo struct {
	AvailGB float64
	TotalGB float64
	UsedGB  float64
}

var getDiskFreeSpaceEx = syscall.NewLazyDLL("kernel32.dll").NewProc("GetDiskFreeSpaceExW")

func GetDiskSpace(path string) (DiskSpaceInfo, error) {
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return DiskSpaceInfo{}, err
	}

	var avail, total, free uint64
	ret, _, err := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&avail)),
		uintptr(unsafe.Pointer(&total)),
		uintptr(unsafe.Pointer(&free)),
	)
	if ret == 0 {
		return DiskSpaceInfo{}, err
	}

	const gb = 1024 * 1024 * 1024
	return DiskSpaceInfo{
		AvailGB: float64(avail) / gb,
		TotalGB: float64(total) / gb,
		UsedGB:  float64(total-avail) / gb,
	}, nil
}
