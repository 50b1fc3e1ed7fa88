// Package build carries version metadata stamped in at build time via
// -ldflags.
package build

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
