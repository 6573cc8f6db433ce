//go:build !linux && !darwin && !windows

package helpers

// GetTotalSystemMemoryMB is unknown on this platform.
func GetTotalSystemMemoryMB() int {
	return 0
}
