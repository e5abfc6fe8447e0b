// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set with -ldflags "-X github.com/anicolao/morpheum/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime details keyed for display in status
// messages.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start, truncated to seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent returns the default User-Agent for outbound HTTP requests.
func UserAgent() string {
	return "morpheum/" + Version
}

// ServiceUserAgent returns a User-Agent naming the calling subsystem,
// e.g. "morpheum-forge/1.2.0".
func ServiceUserAgent(service string) string {
	return fmt.Sprintf("morpheum-%s/%s", service, Version)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Morpheum %s (%s) built %s, %s", Version, GitCommit, BuildTime, runtime.Version())
}
