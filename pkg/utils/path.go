package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a leading "~" to the user's home directory and
// cleans the result. Paths without a tilde are cleaned and returned as-is.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	return filepath.Clean(path), nil
}

// ValidateStorageRoot checks that a storage root is usable: non-empty,
// absolute after expansion, and free of traversal sequences.
func ValidateStorageRoot(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}

	if strings.Contains(expanded, "..") {
		return fmt.Errorf("storage root contains directory traversal: %s", path)
	}
	if !filepath.IsAbs(expanded) {
		return fmt.Errorf("storage root must be absolute: %s", path)
	}

	return nil
}
