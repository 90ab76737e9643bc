//go:build !wlcompdebug

package debug

const Assertions = false
