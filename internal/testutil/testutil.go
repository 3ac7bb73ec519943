// Package testutil provides testing utilities for nettrace tests.
package testutil

import (
	"os/exec"
	"testing"
)

// SkipIfNoCommand skips the test if name is not in PATH.
func SkipIfNoCommand(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found in PATH, skipping test", name)
	}
}

// SkipIfNoTcpdump skips the test if tcpdump is not installed.
func SkipIfNoTcpdump(t *testing.T) {
	t.Helper()
	SkipIfNoCommand(t, "tcpdump")
}
