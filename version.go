package main

import (
	"fmt"
	"runtime"
	"strings"
)

// Build metadata for the faucet binary, injected with
// -ldflags "-X main.Version=... -X main.Commit=... -X main.BuildDate=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

const binaryName = "pocket-faucet"

// VersionInfo is printed by the version command.
func VersionInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", binaryName, ShortVersion())
	fmt.Fprintf(&b, "  commit:     %s\n", Commit)
	fmt.Fprintf(&b, "  built:      %s\n", BuildDate)
	fmt.Fprintf(&b, "  go:         %s\n", GoVersion)
	fmt.Fprintf(&b, "  platform:   %s/%s", runtime.GOOS, runtime.GOARCH)
	return b.String()
}

// ShortVersion is the version plus the abbreviated commit, when known.
func ShortVersion() string {
	if Commit == "unknown" || len(Commit) < 7 {
		return Version
	}
	return Version + "+" + Commit[:7]
}
