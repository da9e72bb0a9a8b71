package tool

import "os"

// FilesystemBackend abstracts file I/O for the filesystem tool.
type FilesystemBackend interface {
	ReadFile(path string) ([]byte, error)
	// WriteFile writes data, creating missing parent directories.
	WriteFile(path string, data []byte, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	Stat(path string) (os.FileInfo, error)
	// Name returns the backend identifier (e.g. "local").
	Name() string
}
