package version

import "fmt"

// Name of the application.
const Name = "Warden"

// Set at build time via -ldflags "-X github.com/Wikid82/warden/internal/version.<Var>=...".
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the build metadata reported by the collector health check and the
// agent's version command.
type Info struct {
	Name      string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

func Get() Info {
	return Info{Name: Name, Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
}

// Stamped reports whether both ldflags were provided.
func (i Info) Stamped() bool {
	return i.GitCommit != "unknown" && i.BuildTime != "unknown"
}

func (i Info) String() string {
	if !i.Stamped() {
		return i.Version
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildTime)
}

// Full is the version string with build metadata when stamped.
func Full() string {
	return Get().String()
}

// UserAgent is sent by the agent on every delivery request.
func UserAgent() string {
	return Name + "-agent/" + Version
}
