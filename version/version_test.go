package version

import (
	"runtime/debug"
	"testing"
)

func TestRevision(t *testing.T) {
	tests := []struct {
		settings []debug.BuildSetting
		want     string
	}{
		{nil, ""},
		{[]debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}}, "0123456"},
		{[]debug.BuildSetting{{Key: "vcs.modified", Value: "true"}, {Key: "vcs.revision", Value: "abcdef0123"}}, "abcdef0-dirty"},
		{[]debug.BuildSetting{{Key: "vcs.modified", Value: "true"}}, ""},
	}
	for _, tt := range tests {
		if got := revision(tt.settings); got != tt.want {
			t.Errorf("revision(%v) = %q, want %q", tt.settings, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	defer func(v string) { Version = v }(Version)
	Version = "v1.2.0"
	if got := String(); got != "1.2.0" {
		t.Errorf("String() = %q, want 1.2.0", got)
	}
}
