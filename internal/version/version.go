// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/silvanus-labs/greenchain/internal/version.Version=v0.3.0"
package version

var (
	// Version is the semantic version of the build.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "none"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
