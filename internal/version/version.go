package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags -X at build time
var (
	version = "dev"
	commit  = ""
)

// Version returns the version number supplied during build
func Version() string {
	return version
}

// Full returns the version with the commit and build platform
func Full() string {
	v := version
	if commit != "" {
		v = fmt.Sprintf("%s (%s)", v, commit)
	}
	return fmt.Sprintf("%s %s/%s %s", v, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
