// Package version carries build information injected via -ldflags.
// The defaults apply to plain go build.
package version

import "runtime"

var (
	Version = "dev"     // release version
	Commit  = "unknown" // git commit hash
	Date    = "unknown" // build timestamp
)

// Info is the resolved build and runtime information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information plus the Go runtime version.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
	}
}
