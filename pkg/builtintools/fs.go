// Package builtintools implements the in-process tools advertised to
// every Agent Loop: filesystem access, shell execution, and regex
// search, each satisfying the wire.ToolDefinition contract (spec.md
// §4.3 "Built-in tool contract").
package builtintools

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func readDirAt(root *os.Root, rel string) ([]os.DirEntry, error) {
	return fs.ReadDir(root.FS(), rel)
}

// filesystem abstracts reading, writing, and listing files so the same
// tool bodies work sandboxed (os.Root, workspace-restricted) or
// unrestricted (direct host access).
type filesystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ReadDir(path string) ([]os.DirEntry, error)
	Resolve(path string) (string, error)
}

// hostFS operates directly on the host filesystem with no sandboxing.
type hostFS struct{}

func (hostFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }
func (hostFS) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }
func (hostFS) Resolve(path string) (string, error)     { return path, nil }

func (hostFS) WriteFile(path string, data []byte) error {
	return writeFileAtomic(path, data, 0o600)
}

// sandboxFS restricts all access to paths within Workspace, using
// os.Root so symlink escapes and ".." traversal are rejected by the
// runtime rather than by string inspection alone.
type sandboxFS struct {
	Workspace string
}

func (s sandboxFS) relPath(path string) (string, error) {
	if s.Workspace == "" {
		return "", fmt.Errorf("workspace is not defined")
	}
	rel := filepath.Clean(path)
	if filepath.IsAbs(rel) {
		var err error
		rel, err = filepath.Rel(s.Workspace, rel)
		if err != nil {
			return "", fmt.Errorf("failed to calculate relative path: %w", err)
		}
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return rel, nil
}

func (s sandboxFS) Resolve(path string) (string, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Workspace, rel), nil
}

func (s sandboxFS) open() (*os.Root, error) {
	root, err := os.OpenRoot(s.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	return root, nil
}

func (s sandboxFS) ReadFile(path string) ([]byte, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return nil, err
	}
	root, err := s.open()
	if err != nil {
		return nil, err
	}
	defer root.Close()

	content, err := root.ReadFile(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %w", err)
		}
		if os.IsPermission(err) || strings.Contains(err.Error(), "escapes from parent") {
			return nil, fmt.Errorf("access denied: %w", err)
		}
		return nil, err
	}
	return content, nil
}

func (s sandboxFS) WriteFile(path string, data []byte) error {
	rel, err := s.relPath(path)
	if err != nil {
		return err
	}
	root, err := s.open()
	if err != nil {
		return err
	}
	defer root.Close()

	if dir := filepath.Dir(rel); dir != "." && dir != "/" {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create parent directories: %w", err)
		}
	}

	tmpRel := fmt.Sprintf(".tmp-%d-%d", os.Getpid(), time.Now().UnixNano())
	tmpFile, err := root.OpenFile(tmpRel, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		root.Remove(tmpRel)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		root.Remove(tmpRel)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		root.Remove(tmpRel)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := root.Rename(tmpRel, rel); err != nil {
		root.Remove(tmpRel)
		return fmt.Errorf("failed to rename temp file over target: %w", err)
	}
	return nil
}

func (s sandboxFS) ReadDir(path string) ([]os.DirEntry, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return nil, err
	}
	root, err := s.open()
	if err != nil {
		return nil, err
	}
	defer root.Close()
	return readDirAt(root, rel)
}

// writeFileAtomic writes via a temp file + rename + fsync so a crash
// mid-write never leaves a truncated file in place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file over target: %w", err)
	}
	return nil
}

func newFS(workspace string, restrict bool) filesystem {
	if restrict {
		return sandboxFS{Workspace: workspace}
	}
	return hostFS{}
}
