// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Build is the resolved build identity.
type Build struct {
	Version string
	Commit  string
	Dirty   bool
	Time    string
}

// Current resolves the build identity, preferring linker-injected
// values over the binary's VCS stamps.
func Current() Build {
	build := Build{Version: Version, Commit: GitCommit, Dirty: GitDirty == "true", Time: BuildTime}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return build
	}
	return fromBuildInfo(build, info)
}

func fromBuildInfo(build Build, info *debug.BuildInfo) Build {
	if build.Version == "0.1.0-dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		build.Version = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if build.Commit == "unknown" && setting.Value != "" {
				build.Commit = setting.Value[:min(len(setting.Value), 12)]
			}
		case "vcs.time":
			if build.Time == "unknown" {
				build.Time = setting.Value
			}
		case "vcs.modified":
			if GitDirty == "false" && setting.Value == "true" {
				build.Dirty = true
			}
		}
	}
	return build
}

func (b Build) String() string {
	dirty := ""
	if b.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", b.Version, b.Commit, dirty, b.Time)
}

// Info is the one-line version for logs.
func Info() string {
	return Current().String()
}

// Full adds the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
