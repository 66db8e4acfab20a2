// Package version holds build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// values set by the linker, e.g.
// -X github.com/aserto-dev/oidc-registration/pkg/version.ver=v0.1.0
var (
	ver    string
	date   string
	commit string
)

type Info struct {
	Version string `json:"version"`
	Date    string `json:"date"`
	Commit  string `json:"commit"`
}

func GetInfo() Info {
	return Info{
		Version: fallback(ver, "0.0.0"),
		Date:    fallback(date, "unknown"),
		Commit:  fallback(commit, "unknown"),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s g%s %s-%s [%s]", i.Version, i.Commit, runtime.GOOS, runtime.GOARCH, i.Date)
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}

	return value
}
