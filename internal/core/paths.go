package core

import (
	"os"
	"path/filepath"
	"strings"
)

// expandHomePath expands a leading ~ to the user's home directory.
func expandHomePath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
