// Package buildinfo contains build-time metadata separate from user configuration
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata the build did not inject.
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
// It is injected at startup through -ldflags and never read from config.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string

	// Commit is the short Git revision
	Commit string
}

// NewContext returns build metadata.
func NewContext(version, buildDate, commit string) *Context {
	return &Context{Version: version, BuildDate: buildDate, Commit: commit}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// GetVersion returns the version tag or "unknown".
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Version)
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.BuildDate)
}

// GetCommit returns the revision or "unknown".
func (c *Context) GetCommit() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Commit)
}

// Release is the identifier reported to error telemetry.
func (c *Context) Release() string {
	return "gaia@" + c.GetVersion()
}

// String renders a one-line version banner.
func (c *Context) String() string {
	return fmt.Sprintf("gaia %s (commit %s, built %s, %s/%s)",
		c.GetVersion(), c.GetCommit(), c.GetBuildDate(), runtime.GOOS, runtime.GOARCH)
}
