// Package version holds build-time version metadata.
package version

// Populated at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)
