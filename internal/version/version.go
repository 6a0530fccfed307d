// Package version provides build-time version information.
package version

import "runtime/debug"

// version is set at build time via -ldflags "-X warden/internal/version.version=...".
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the current version. Without ldflags it falls back to the
// module version recorded by `go install`, then to "dev".
func String() string {
	if version != "dev" {
		return version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return version
}
