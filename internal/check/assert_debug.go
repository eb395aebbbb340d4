//go:build debug

package check

import "fmt"

// Invariant panics when cond is false. Only debug builds check.
func Invariant(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}
