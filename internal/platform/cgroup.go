// Package platform reads container resource limits from cgroup files and
// samples process resource usage, falling back to host-level memory stats
// when the process handle is unavailable.
package platform

import (
	"os"
	"strconv"
	"strings"
)

// MemoryLimit returns the container memory limit in bytes, trying cgroup v2
// first and falling back to cgroup v1. Returns 0 with a nil error when no
// limit is detected (unlimited, or not running in a container).
func MemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limit := strings.TrimSpace(string(data))
		if limit != "max" {
			return strconv.ParseInt(limit, 10, 64)
		}
		return 0, nil
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	}

	return 0, nil
}

// CPUQuota returns the number of CPU cores allotted to this cgroup, trying
// cgroup v2 (cpu.max) first and falling back to cgroup v1 (cfs quota/period).
// Returns 0 with a nil error when no quota is detected.
func CPUQuota() (float64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/cpu.max"); err == nil {
		fields := strings.Fields(strings.TrimSpace(string(data)))
		if len(fields) == 2 && fields[0] != "max" {
			quota, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return 0, err
			}
			period, err := strconv.ParseFloat(fields[1], 64)
			if err != nil || period == 0 {
				return 0, err
			}
			return quota / period, nil
		}
		return 0, nil
	}

	quotaData, err1 := os.ReadFile("/sys/fs/cgroup/cpu/cpu.cfs_quota_us")
	periodData, err2 := os.ReadFile("/sys/fs/cgroup/cpu/cpu.cfs_period_us")
	if err1 == nil && err2 == nil {
		quota, err := strconv.ParseFloat(strings.TrimSpace(string(quotaData)), 64)
		if err != nil || quota <= 0 {
			return 0, nil
		}
		period, err := strconv.ParseFloat(strings.TrimSpace(string(periodData)), 64)
		if err != nil || period == 0 {
			return 0, nil
		}
		return quota / period, nil
	}

	return 0, nil
}
