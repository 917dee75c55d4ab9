// Package version tracks build metadata shared by every fecbench command.
package version

import (
	"fmt"
	"runtime"
	"sync"
)

// Info describes build metadata for the application.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Build metadata injected with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

var (
	info      = Info{Version: "dev"}
	infoMutex sync.RWMutex
	initOnce  sync.Once
)

// Set updates the version metadata exposed by the application.
func Set(v Info) {
	infoMutex.Lock()
	defer infoMutex.Unlock()

	if v.Version == "" {
		v.Version = "dev"
	}
	if v.GoVersion == "" {
		v.GoVersion = runtime.Version()
	}
	info = v
}

// Current returns the currently configured build metadata, seeding it from the
// linker variables on first use.
func Current() Info {
	initOnce.Do(func() {
		infoMutex.RLock()
		seeded := info.Commit != "" || info.BuildTime != "" || info.Version != "dev"
		infoMutex.RUnlock()
		if !seeded {
			Set(Info{Version: Version, Commit: Commit, BuildTime: BuildTime})
		}
	})

	infoMutex.RLock()
	defer infoMutex.RUnlock()
	return info
}

// String renders the metadata on one line, as printed by --version.
func (i Info) String() string {
	s := i.Version
	if i.Commit != "" {
		s += " (" + i.Commit + ")"
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	if i.GoVersion != "" {
		s += fmt.Sprintf(" %s", i.GoVersion)
	}
	return s
}
