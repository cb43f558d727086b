package util

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the requested file does not exist.
var ErrNotFound = errors.New("util: file not found")

// ErrIO wraps an unreadable, too-large, or otherwise unusable file.
var ErrIO = errors.New("util: io error")

// GetFileAsBytes reads name from under searchDir, rejecting escapes above
// the root and files above maxSize. It mirrors the narrow contract of the
// original get_file_as_string: fixed root, bounded size, IoError on any
// other failure.
func GetFileAsBytes(searchDir, name string, maxSize int64) ([]byte, error) {
	if URITargetAboveRoot(name) {
		return nil, ErrIO
	}
	full := filepath.Join(searchDir, filepath.FromSlash(strings.TrimPrefix(name, "/")))
	if !strings.HasPrefix(full, filepath.Clean(searchDir)) {
		return nil, ErrIO
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, ErrIO
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	if info.Size() > maxSize {
		return nil, ErrIO
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, ErrIO
	}
	return data, nil
}
