//go:build !debug

package pool

// debugLog is a no-op outside of -tags debug builds.
func debugLog(format string, args ...any) {}
