package backtestengine

import (
	"os"
	"path/filepath"
	"strings"
)

// reservedSubdirs are historically where a misconfigured caller has
// accidentally created a second, divergent analysis database file.
var reservedSubdirs = []string{"dashboard", "web"}

// ResolveDatabasePath is the single function every entry point must call
// to determine where the analysis SQLite/Postgres DSN file or directory
// lives, preventing the dual-write-path bug where two components compute
// the database location differently and silently diverge. FORCE_ROOT_ANALYSIS_DB,
// if set, always wins over explicit. Neither is allowed to resolve under
// a reserved subdirectory.
func ResolveDatabasePath(explicit string) string {
	path := explicit
	if forced := os.Getenv("FORCE_ROOT_ANALYSIS_DB"); forced != "" {
		path = forced
	}
	if path == "" {
		path = "./analysis.db"
	}

	clean := filepath.Clean(path)
	if underReservedSubdir(clean) {
		return filepath.Join(".", filepath.Base(clean))
	}
	return clean
}

func underReservedSubdir(path string) bool {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for _, part := range parts {
		for _, reserved := range reservedSubdirs {
			if part == reserved {
				return true
			}
		}
	}
	return false
}
