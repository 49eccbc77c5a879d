// Package workspace reads and writes a session's sandbox file tree.
//
// It is the only package that touches the local filesystem. Every path it
// accepts is relative to the sandbox root and is resolved with SecureJoin, so
// ".." segments and absolute paths cannot escape the root.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrIO marks local filesystem failures (missing paths, permissions, disk
// full). Callers match it with errors.Is.
var ErrIO = errors.New("workspace I/O failure")

// Node kinds, as sent to the browser.
const (
	KindFile = "file"
	KindDir  = "dir"
)

// FileNode is a transient view of one directory entry.
type FileNode struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// FS is a sandbox rooted at a local directory.
type FS struct {
	root string
}

// New returns an FS rooted at root.
func New(root string) *FS {
	return &FS{root: root}
}

// Root returns the sandbox root directory.
func (f *FS) Root() string {
	return f.root
}

func (f *FS) resolve(rel string) (string, error) {
	full, err := securejoin.SecureJoin(f.root, rel)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %q: %v", ErrIO, rel, err)
	}
	return full, nil
}

// ListDirectory returns the immediate children of rel. Each node's Path is
// rel joined with the child name.
func (f *FS) ListDirectory(ctx context.Context, rel string) ([]FileNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read directory: %v", ErrIO, err)
	}

	nodes := make([]FileNode, 0, len(entries))
	for _, de := range entries {
		kind := KindFile
		if de.IsDir() {
			kind = KindDir
		}
		nodes = append(nodes, FileNode{
			Type: kind,
			Name: de.Name(),
			Path: path.Join(rel, de.Name()),
		})
	}
	return nodes, nil
}

// ReadFile returns the full content of rel. There is no size limit.
func (f *FS) ReadFile(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := f.resolve(rel)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("%w: read file: %v", ErrIO, err)
	}
	return string(data), nil
}

// WriteFile replaces the content of rel, creating the file if needed. A crash
// mid-write can leave partial content.
func (f *FS) WriteFile(ctx context.Context, rel, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := f.resolve(rel)
	if err != nil {
		return err
	}

	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("%w: write file: %v", ErrIO, err)
	}
	return nil
}
