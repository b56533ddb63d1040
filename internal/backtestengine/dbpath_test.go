package backtestengine

import (
	"os"
	"testing"
)

func TestResolveDatabasePath(t *testing.T) {
	os.Unsetenv("FORCE_ROOT_ANALYSIS_DB")

	tests := []struct {
		name     string
		explicit string
		want     string
	}{
		{"explicit path kept", "./custom.db", "custom.db"},
		{"empty falls back to default", "", "analysis.db"},
		{"reserved dashboard subdir stripped to basename", "dashboard/analysis.db", "analysis.db"},
		{"reserved web subdir stripped to basename", "web/analysis.db", "analysis.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveDatabasePath(tt.explicit); got != tt.want {
				t.Errorf("ResolveDatabasePath(%q) = %q, want %q", tt.explicit, got, tt.want)
			}
		})
	}
}

func TestResolveDatabasePath_EnvOverrideWins(t *testing.T) {
	os.Setenv("FORCE_ROOT_ANALYSIS_DB", "./forced.db")
	defer os.Unsetenv("FORCE_ROOT_ANALYSIS_DB")

	got := ResolveDatabasePath("./explicit.db")
	if got != "forced.db" {
		t.Errorf("expected FORCE_ROOT_ANALYSIS_DB to win, got %q", got)
	}
}
