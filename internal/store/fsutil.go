package store

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so a reader never observes a partial write and a
// crash never leaves a truncated file at the final path. The temp name
// carries a random suffix to avoid collisions between concurrent writers.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, perm); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
