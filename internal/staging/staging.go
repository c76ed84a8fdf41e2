// Package staging holds the chunks of in-progress chunked uploads on a
// filesystem until they are assembled.
//
// Layout, relative to the staging root:
//
//	{escaped model}_v{version}/chunk_000001
//	{escaped model}_v{version}/chunk_000002
//	...
//
// The model name is path-escaped, so distinct models never share a
// directory.
package staging

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// BufferSize is the copy buffer used for every chunk write and read.
const BufferSize = 8 << 10

// Area is a staging area rooted on an afero filesystem.
type Area struct {
	fs afero.Fs
}

// New stages chunks on fs. Tests pass afero.NewMemMapFs().
func New(fs afero.Fs) *Area {
	return &Area{fs: fs}
}

// NewOnDisk stages chunks below root on the local filesystem.
func NewOnDisk(root string) (*Area, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging root %s: %w", root, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// Dir is the directory holding the chunks of one version. The mapping
// is injective: the escaped name contains no path separator and the
// suffix after the last "_v" is always the version number.
func Dir(modelName string, version int) string {
	return fmt.Sprintf("%s_v%d", url.PathEscape(modelName), version)
}

// ChunkPath is the staging path of one chunk.
func ChunkPath(modelName string, version, chunk int) string {
	return filepath.Join(Dir(modelName, version), fmt.Sprintf("chunk_%06d", chunk))
}

// WriteChunk streams r into the chunk's file, replacing any earlier
// content, and returns the file's path and size.
func (a *Area) WriteChunk(ctx context.Context, modelName string, version, chunk int, r io.Reader) (string, int64, error) {
	dir := Dir(modelName, version)
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create staging directory: %w", err)
	}

	path := ChunkPath(modelName, version, chunk)
	f, err := a.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open chunk file: %w", err)
	}

	n, err := io.CopyBuffer(f, contextReader{ctx: ctx, r: r}, make([]byte, BufferSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to write chunk %d: %w", chunk, err)
	}
	return path, n, nil
}

// Open opens a staged file for reading.
func (a *Area) Open(path string) (afero.File, error) {
	return a.fs.Open(path)
}

// CreateTemp creates an empty scratch file in the version's directory.
// The caller removes it.
func (a *Area) CreateTemp(modelName string, version int) (afero.File, error) {
	dir := Dir(modelName, version)
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return afero.TempFile(a.fs, dir, "assembled-*")
}

// Remove deletes a single staged file.
func (a *Area) Remove(path string) error {
	return a.fs.Remove(path)
}

// RemoveVersion deletes every staged file of a version. A missing
// directory is not an error.
func (a *Area) RemoveVersion(modelName string, version int) error {
	return a.fs.RemoveAll(Dir(modelName, version))
}

// Exists reports whether the version has a staging directory.
func (a *Area) Exists(modelName string, version int) (bool, error) {
	return afero.DirExists(a.fs, Dir(modelName, version))
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
