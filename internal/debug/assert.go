package debug

import "fmt"

// Assert reports whether cond holds. In builds with the wlcompdebug
// tag a false cond panics instead, so that broken invariants surface
// during development while release builds can fall back to a
// recovery path.
func Assert(cond bool, format string, args ...any) bool {
	if !cond && Assertions {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
	return cond
}
