// Package buildinfo exposes the binary's version.
package buildinfo

import "runtime/debug"

// Version is set at link time with
// -ldflags "-X meshnode/internal/buildinfo.Version=v1.2.3".
var Version = ""

func init() {
	if Version != "" {
		return
	}
	Version = "dev"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}
}
