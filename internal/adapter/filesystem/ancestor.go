package filesystem

import (
	"os"
	"path/filepath"
)

// existingAncestor walks up from path until it finds something that exists
func existingAncestor(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
