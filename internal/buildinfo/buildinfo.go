// Package buildinfo carries build-time metadata injected at link time,
// kept separate from user configuration.
package buildinfo

// Set via -ldflags at build time.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// Info is the reportable build metadata.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
}

// Get returns the current build metadata, substituting "unknown" for
// values the build did not inject.
func Get() Info {
	info := Info{Version: Version, BuildDate: BuildDate}
	if info.Version == "" {
		info.Version = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}
