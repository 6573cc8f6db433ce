package helpers

import (
	"runtime"
	"runtime/debug"
)

const fallbackMemoryMB = 512

// RecommendedMemoryLimitMB returns 75% of totalMB, never less than 512MB
// unless the machine itself has less. Zero total means unknown.
func RecommendedMemoryLimitMB(totalMB int) int {
	if totalMB <= 0 {
		return fallbackMemoryMB
	}
	limit := int(float64(totalMB) * 0.75)
	if limit < fallbackMemoryMB {
		if totalMB < fallbackMemoryMB {
			return totalMB
		}
		return fallbackMemoryMB
	}
	return limit
}

// ApplyMemoryLimit sets the runtime soft memory limit. A configured value of
// zero derives one from physical memory. Returns the limit applied in MB.
func ApplyMemoryLimit(configuredMB int) int {
	limit := configuredMB
	if limit <= 0 {
		limit = RecommendedMemoryLimitMB(GetTotalSystemMemoryMB())
	}
	debug.SetMemoryLimit(int64(limit) << 20)
	return limit
}

// HeapAllocMB reports live heap usage.
func HeapAllocMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / 1024 / 1024
}
