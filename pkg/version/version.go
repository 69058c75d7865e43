// Package version reports which kbfusion build is running and which build
// wrote an index.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version is set with -X github.com/Aman-CERP/kbfusion/pkg/version.Version=$(VERSION).
var Version = "dev"

// Commit and Date are set via ldflags. When they are not, the VCS stamp the
// go command embeds in the binary is used.
var (
	Commit = "unknown"
	Date   = "unknown"
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	infoOnce sync.Once
	info     BuildInfo
)

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	infoOnce.Do(func() {
		info = BuildInfo{
			Version:   Version,
			Commit:    Commit,
			Date:      Date,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			applyVCS(&info, bi.Settings)
		}
	})
	return info
}

func applyVCS(info *BuildInfo, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.Date == "unknown" && s.Value != "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String returns a one-line description of the build.
func String() string {
	bi := GetInfo()
	commit := bi.Commit
	if bi.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("kbfusion %s (commit: %s, built: %s, go: %s, %s)",
		bi.Version, commit, bi.Date, bi.GoVersion, bi.Platform)
}

// Short returns just the version. It is recorded as the indexed_by state of
// every index this build writes.
func Short() string {
	return Version
}
