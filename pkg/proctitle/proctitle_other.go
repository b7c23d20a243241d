//go:build !linux

package proctitle

// set is a no-op on platforms where rewriting argv in place isn't
// supported by this exercise's narrow implementation.
func set(title string) {}
