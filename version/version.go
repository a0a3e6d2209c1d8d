// Package version reports the build of the vusic tools.
package version

import (
	"runtime/debug"
	"strings"
)

// Version is set at link time:
//
//	go build -ldflags "-X github.com/dawg/vusic/version.Version=$(git describe --dirty)"
var Version string

// Hash is the short VCS revision recorded by the go tool, with a -dirty
// suffix for modified trees.
var Hash = func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	return revision(info.Settings)
}()

func revision(settings []debug.BuildSetting) string {
	var rev string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}

// String returns Version, or the revision when no version was linked in,
// or "devel".
func String() string {
	switch {
	case Version != "":
		return strings.TrimPrefix(Version, "v")
	case Hash != "":
		return Hash
	}
	return "devel"
}
