package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is set with -ldflags "-X dealsignal/internal/version.Version=...".
	Version = "dev"
	// Commit is the source revision of the build.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders build information for the version command.
func String() string {
	return fmt.Sprintf("dealsignal %s\ncommit: %s\nbuilt: %s\ngo: %s %s/%s\n",
		Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
