// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata linked into the doa binary with
//
//	go build -ldflags "-X doa/pkg/build.buildVersion=0.3.0 -X doa/pkg/build.buildCommit=$(git rev-parse HEAD) ..."
//
// Development builds carry "dev"/"unknown" values; Initialize reports which
// flags were not provided so release pipelines can refuse to ship them.
package build

import (
	"errors"
	"fmt"
)

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String renders the one-line form printed by the version command.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var info = Info{
	Name:        "doa",
	Description: "Gated direction-of-arrival inference pipeline",
	Time:        "unknown",
	Commit:      "unknown",
	Version:     "dev",
}

// Initialize copies the linker-provided values into the build info. Every
// missing value is reported in the returned error; the provided ones are
// still applied.
func Initialize() error {
	var errs []error
	apply := func(dst *string, val, flag string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", flag))
			return
		}
		*dst = val
	}
	apply(&info.Name, buildName, "BuildName")
	apply(&info.Time, buildTime, "BuildTime")
	apply(&info.Commit, buildCommit, "BuildCommit")
	apply(&info.Version, buildVersion, "BuildVersion")
	return errors.Join(errs...)
}

// Get returns a copy of the current build information.
func Get() Info {
	return info
}
