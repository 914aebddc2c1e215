package version

import (
	"runtime/debug"
	"testing"
)

func TestMergeBuildInfo(t *testing.T) {
	t.Parallel()
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := mergeBuildInfo(Info{}, bi)
	if got.Version != "v1.2.3" {
		t.Fatalf("version = %q", got.Version)
	}
	if got.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("build time = %q", got.BuildTime)
	}
	if s := got.String(); s != "v1.2.3 (0123456789ab-dirty)" {
		t.Fatalf("String() = %q", s)
	}
}

func TestLdflagsWin(t *testing.T) {
	t.Parallel()
	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffff"}},
	}
	got := mergeBuildInfo(Info{Version: "v9", Commit: "abc"}, bi)
	if got.Version != "v9" || got.Commit != "abc" {
		t.Fatalf("ldflags values overridden: %+v", got)
	}
	if s := got.String(); s != "v9 (abc)" {
		t.Fatalf("String() = %q", s)
	}
}

func TestResolveHasVersion(t *testing.T) {
	t.Parallel()
	if Resolve().Version == "" {
		t.Fatal("Resolve returned an empty version")
	}
}
