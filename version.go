package credhub

import "fmt"

// Version of credhub
const Version = "0.4.0"

// Build information (set by ldflags during build)
var (
	GitCommit string
	BuildDate string
)

// VersionInfo returns formatted version information
func VersionInfo() string {
	if GitCommit == "" {
		return fmt.Sprintf("credhub v%s", Version)
	}
	return fmt.Sprintf("credhub v%s (commit: %s, built: %s)", Version, shortCommit(GitCommit), BuildDate)
}

// FullVersionInfo returns complete version information
func FullVersionInfo() VersionDetails {
	return VersionDetails{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}

// VersionDetails contains detailed version information
type VersionDetails struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
