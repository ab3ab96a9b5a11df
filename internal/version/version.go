// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/spray.report/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	// Version is the release the binary was built from.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// String formats the build metadata for logs and the -version flag.
func String() string {
	return fmt.Sprintf("spray.report %s (%s, built %s)", Version, GitSHA, BuildTime)
}
