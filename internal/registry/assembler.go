package registry

import (
	"context"
	"fmt"
	"io"
	"sort"

	"model_registry/internal/models"
	"model_registry/internal/staging"
)

// Assemble writes the staged payloads of chunks to dst in ascending
// numeric chunk order and returns the number of bytes written. Chunks
// are streamed through a fixed buffer. Missing numbers are skipped
// silently; a chunk whose staged file is gone is an error.
func Assemble(ctx context.Context, area *staging.Area, chunks []*models.UploadChunk, dst io.Writer) (int64, error) {
	ordered := make([]*models.UploadChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ChunkNumber < ordered[j].ChunkNumber
	})

	buf := make([]byte, staging.BufferSize)
	var total int64
	for _, c := range ordered {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := copyChunk(area, c, dst, buf)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func copyChunk(area *staging.Area, c *models.UploadChunk, dst io.Writer, buf []byte) (int64, error) {
	f, err := area.Open(c.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to open chunk %d: %w", c.ChunkNumber, err)
	}
	defer f.Close()

	// Wrapping hides any ReaderFrom/WriterTo so the copy always uses buf.
	n, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{f}, buf)
	if err != nil {
		return n, fmt.Errorf("failed to copy chunk %d: %w", c.ChunkNumber, err)
	}
	return n, nil
}
