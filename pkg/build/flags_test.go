// SPDX-License-Identifier: MIT
package build

import (
	"os"
	"strings"
	"testing"
)

var origInfo Info

func TestMain(m *testing.M) {
	origInfo = info
	code := m.Run()
	info = origInfo
	os.Exit(code)
}

func setFlags(name, tm, commit, version string) {
	buildName, buildTime, buildCommit, buildVersion = name, tm, commit, version
	info = origInfo
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantErr     []string
	}{
		{"Missing BuildName", "", "2026-10-19", "abcdef1", "v0.3.0", []string{"BuildName is required"}},
		{"Missing BuildTime", "doa", "", "abcdef1", "v0.3.0", []string{"BuildTime is required"}},
		{"Missing commit and version", "doa", "2026-10-19", "", "", []string{"BuildCommit is required", "BuildVersion is required"}},
		{"Success Case", "doa", "2026-10-19", "abcdef1", "v0.3.0", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setFlags(tt.buildName, tt.buildTime, tt.buildCommit, tt.buildVer)

			err := Initialize()

			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Initialize() unexpected error: %v", err)
				}
				got := Get()
				if got.Version != tt.buildVer || got.Commit != tt.buildCommit || got.Time != tt.buildTime {
					t.Errorf("Get() = %+v", got)
				}
				return
			}
			if err == nil {
				t.Fatal("Initialize() expected error, got nil")
			}
			for _, msg := range tt.wantErr {
				if !strings.Contains(err.Error(), msg) {
					t.Errorf("error %q does not mention %q", err, msg)
				}
			}
		})
	}
}

func TestPartialFlagsStillApplied(t *testing.T) {
	setFlags("", "", "abcdef1", "")
	_ = Initialize()

	got := Get()
	if got.Commit != "abcdef1" {
		t.Errorf("Commit = %q, want abcdef1", got.Commit)
	}
	if got.Name != "doa" || got.Version != "dev" {
		t.Errorf("defaults overwritten: %+v", got)
	}
}

func TestInfoString(t *testing.T) {
	i := Info{Name: "doa", Version: "v1", Commit: "c0ffee", Time: "now"}
	if s := i.String(); s != "doa v1 (commit c0ffee, built now)" {
		t.Errorf("String() = %q", s)
	}
}
