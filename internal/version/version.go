// Package version tracks build metadata for the binaries.
package version

import (
	"strings"
	"sync"
)

// Info describes build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Line renders the metadata as one human readable line prefixed with the
// program name, e.g. "intel-gpu-top 1.2.0 (abc123) built 2024-01-01".
func (i Info) Line(program string) string {
	var b strings.Builder
	b.WriteString(program)
	b.WriteByte(' ')
	b.WriteString(i.Version)
	if i.Commit != "" {
		b.WriteString(" (" + i.Commit + ")")
	}
	if i.BuildTime != "" {
		b.WriteString(" built " + i.BuildTime)
	}
	return b.String()
}

var (
	info      = Info{Version: "dev"}
	infoMutex sync.RWMutex
)

// Set updates the build metadata. An empty version stays "dev".
func Set(v Info) {
	infoMutex.Lock()
	defer infoMutex.Unlock()

	if v.Version == "" {
		v.Version = "dev"
	}
	info = v
}

// Current returns the configured build metadata.
func Current() Info {
	infoMutex.RLock()
	defer infoMutex.RUnlock()
	return info
}
