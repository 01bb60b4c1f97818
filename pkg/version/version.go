package version

import (
	"runtime"
	"strings"
)

// Set with -ldflags "-X github.com/veesix-networks/dhcprelay/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Full renders the build identity for --version and the startup log.
func Full() string {
	var b strings.Builder
	b.WriteString(Version)
	if Commit != "" {
		b.WriteString(" (" + Commit + ")")
	}
	if Date != "" {
		b.WriteString(" built " + Date)
	}
	b.WriteString(" " + runtime.Version())
	return b.String()
}
