//go:build wlcompdebug

package debug

const Assertions = true
