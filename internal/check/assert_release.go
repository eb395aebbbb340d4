//go:build !debug

package check

// Invariant is a no-op in release builds.
func Invariant(bool, string, ...any) {}
