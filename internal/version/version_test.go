package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	Version, Commit = "1.2.3", "abc123"
	out := String()
	if !strings.Contains(out, "dealsignal 1.2.3") || !strings.Contains(out, "commit: abc123") {
		t.Fatalf("unexpected version output %q", out)
	}
}
