package config

// Build metadata injected at compile time:
//
//	go build -ldflags "-X letterdrop/internal/config.version=1.2.3 \
//	    -X letterdrop/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X letterdrop/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Local builds without ldflags report the dev defaults.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo snapshots the linker-injected variables into Config.Build.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
