// Package testutil provides filesystem fixtures for server tests.
package testutil

import (
	"os"
	"path"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

// CreateTestFilesystem creates an empty in-memory document root
func CreateTestFilesystem() afero.Fs {
	return afero.NewMemMapFs()
}

// CreateTestFilesystemWithContent creates an in-memory document root holding files.
// Keys are slash paths relative to the root; a key ending in "/" creates an empty directory.
func CreateTestFilesystemWithContent(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := CreateTestFilesystem()
	for name, content := range files {
		isDir := strings.HasSuffix(name, "/")
		name = path.Join("/", name)
		if isDir {
			if err := fs.MkdirAll(name, 0755); err != nil {
				t.Fatalf("Failed to create %s: %v", name, err)
			}
			continue
		}
		if err := fs.MkdirAll(path.Dir(name), 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", path.Dir(name), err)
		}
		if err := afero.WriteFile(fs, name, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return fs
}

// DenyFs fails every open of Denied with os.ErrPermission.
type DenyFs struct {
	afero.Fs
	Denied map[string]bool
}

func (d DenyFs) Open(name string) (afero.File, error) {
	if d.Denied[path.Join("/", name)] {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return d.Fs.Open(name)
}

func (d DenyFs) Stat(name string) (os.FileInfo, error) {
	if d.Denied[path.Join("/", name)] {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrPermission}
	}
	return d.Fs.Stat(name)
}
