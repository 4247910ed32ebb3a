package domain

import (
	"errors"
	"io/fs"
	"os"
)

// ScratchFile is a downloaded forecast file in scratch space. Its owner must
// call Close once the file has been decoded.
type ScratchFile struct {
	Path string
	Size int64
}

// Close removes the file. Removing an already-missing file is not an error.
func (f *ScratchFile) Close() error {
	if f == nil || f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
