// Package version reports build information.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/willibrandon/ChronoCPU/pkg/emulator"
)

// These variables are populated by the build process
var (
	// Version is the version of the build
	Version = "dev"
	// BuildTime is the time when the build was created
	BuildTime = "unknown"
)

// GetVersionInfo returns a formatted string with version information and
// the emulator engines compiled into the binary
func GetVersionInfo() string {
	engines := "none"
	if names := emulator.Engines(); len(names) > 0 {
		engines = strings.Join(names, ",")
	}
	return fmt.Sprintf("ChronoCPU v%s (built: %s, %s/%s, engines: %s)",
		Version,
		BuildTime,
		runtime.GOOS,
		runtime.GOARCH,
		engines,
	)
}

// GetVersion returns just the version number
func GetVersion() string {
	return Version
}

// GetBuildTime returns the build timestamp
func GetBuildTime() string {
	return BuildTime
}
