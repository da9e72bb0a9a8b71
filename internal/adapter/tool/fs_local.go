package tool

import (
	"os"
	"path/filepath"
)

// LocalFilesystemBackend is the os-backed FilesystemBackend. Paths reach it
// already resolved by the sandbox.
type LocalFilesystemBackend struct{}

func NewLocalFilesystemBackend() *LocalFilesystemBackend { return &LocalFilesystemBackend{} }

func (*LocalFilesystemBackend) Name() string { return "local" }

func (*LocalFilesystemBackend) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (*LocalFilesystemBackend) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }

func (*LocalFilesystemBackend) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (*LocalFilesystemBackend) WriteFile(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, perm)
}
