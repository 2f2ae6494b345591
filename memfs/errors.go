package memfs

import "github.com/cockroachdb/errors"

// Errors are short so the shell can print them directly. Operations wrap them with the path
// component that failed.
var (
	ErrNotFound     = errors.New("not found")
	ErrNotDirectory = errors.New("not a directory")
	ErrNotFile      = errors.New("not a file")
	ErrAtRoot       = errors.New("already at root directory")
	ErrInvalidPath  = errors.New("invalid path")
	ErrNotEmpty     = errors.New("directory not empty")
)
