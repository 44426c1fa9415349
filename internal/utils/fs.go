package utils

import (
	"fmt"
	"os"
)

// EnsureDir creates path and its parents for on-disk state such as the
// SQLite database.
func EnsureDir(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	Logf("ensure dir: %s", path)
	return os.MkdirAll(path, 0o755)
}
