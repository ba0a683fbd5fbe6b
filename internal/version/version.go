// Package version carries build information set via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables set by ldflags, e.g.
//
//	-X github.com/bybsong/vllm/internal/version.GitRelease=v0.1.0
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo describes the toolchain and platform the binary was built for.
var GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)

// Info is the version record printed by `dococr version`.
type Info struct {
	Release string `json:"release" yaml:"release"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
	Go      string `json:"go" yaml:"go"`
}

// Get returns the current build information.
func Get() Info {
	return Info{
		Release: GitRelease,
		Commit:  GitCommit,
		Date:    GitCommitDate,
		Go:      GoInfo,
	}
}
