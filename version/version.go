// Package version holds build metadata set with -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = ""
)

// Get returns the release version, "dev" for local builds.
func Get() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// String is the "nb version" line.
func String() string {
	if Commit == "" {
		return fmt.Sprintf("nb %s", Get())
	}
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("nb %s (%s)", Get(), short)
}
