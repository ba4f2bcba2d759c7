package api

import (
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/MJE43/minigame-playground/internal/api.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var buildInfo = sync.OnceValue(func() VersionInfo {
	info := VersionInfo{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	// go build stamps vcs data when ldflags were not used
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.GitCommit == "unknown":
			info.GitCommit = s.Value
		case s.Key == "vcs.time" && info.BuildTime == "unknown":
			info.BuildTime = s.Value
		}
	}
	return info
})

// GetVersionInfo reports the build, falling back to the module's VCS stamp.
func GetVersionInfo() VersionInfo {
	return buildInfo()
}
