package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"model_registry/internal/blobstore"
	"model_registry/internal/models"
	"model_registry/internal/storage"

	"go.uber.org/zap"
)

// declareAttempts bounds retries of a version allocation that lost a
// race on the (model, version) unique key.
const declareAttempts = 3

// DeclaredVersion is the result of Declare.
type DeclaredVersion struct {
	Version int    `json:"version"`
	Prefix  string `json:"s3_prefix"`
}

// UploadFile is one file of a direct upload.
type UploadFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}

// UploadedFile describes a stored file.
type UploadedFile struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// DirectUpload is the result of UploadDirect.
type DirectUpload struct {
	Version       int            `json:"version"`
	Prefix        string         `json:"s3_prefix"`
	UploadedFiles []UploadedFile `json:"uploaded_files"`
}

// ChunkedSession is the result of InitiateChunked.
type ChunkedSession struct {
	Prefix    string `json:"s3_prefix"`
	ChunkSize int64  `json:"chunk_size"`
	MaxChunks int    `json:"max_chunks"`
}

// ChunkReceipt is the result of UploadChunk.
type ChunkReceipt struct {
	ChunkNumber int   `json:"chunk_number"`
	Size        int64 `json:"size"`
}

// CompletedUpload is the result of CompleteChunked.
type CompletedUpload struct {
	Version     int    `json:"version"`
	Key         string `json:"key"`
	Prefix      string `json:"s3_prefix"`
	URL         string `json:"url"`
	TotalSize   int64  `json:"total_size"`
	TotalChunks int    `json:"total_chunks"`
}

// Declare allocates the next version number of a model. Numbers are
// never reused, even after the highest version was deleted.
func (s *Service) Declare(ctx context.Context, modelName string) (*DeclaredVersion, error) {
	var (
		declared *DeclaredVersion
		err      error
	)
	for attempt := 1; attempt <= declareAttempts; attempt++ {
		declared, err = s.declareOnce(ctx, modelName)
		if !errors.Is(err, storage.ErrDuplicate) {
			break
		}
		s.log.Debug("version allocation conflict, retrying", zap.String("model", modelName), zap.Int("attempt", attempt))
	}
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrConflict.New("could not allocate a version for %s", modelName)
		}
		return nil, storeError(err, "Model not found")
	}

	s.invalidate(ctx, modelName)
	s.record(ctx, models.ActionVersionDeclared, modelName, declared.Version, nil)
	return declared, nil
}

func (s *Service) declareOnce(ctx context.Context, modelName string) (*DeclaredVersion, error) {
	var declared *DeclaredVersion
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		m, err := tx.Models().GetByNameForUpdate(ctx, modelName)
		if err != nil {
			return err
		}

		highest, err := tx.Versions().MaxVersion(ctx, m.ID)
		if err != nil {
			return err
		}
		next := max(highest, m.LastVersion) + 1

		v := &models.ModelVersion{
			ModelID: m.ID,
			Version: next,
			Prefix:  models.VersionPrefix(m.Name, next),
			Status:  models.VersionDeclared,
		}
		if err := tx.Versions().Create(ctx, v); err != nil {
			return err
		}
		if err := tx.Models().SetLastVersion(ctx, m.ID, next); err != nil {
			return err
		}

		declared = &DeclaredVersion{Version: v.Version, Prefix: v.Prefix}
		return nil
	})
	return declared, err
}

// loadVersion returns a model and one of its versions. A missing version
// is reported with missingVersion.
func (s *Service) loadVersion(ctx context.Context, modelName string, version int, missingVersion string) (*models.Model, *models.ModelVersion, error) {
	m, err := s.store.Models().GetByName(ctx, modelName)
	if err != nil {
		return nil, nil, storeError(err, "Model not found")
	}
	v, err := s.store.Versions().Get(ctx, m.ID, version)
	if err != nil {
		return nil, nil, storeError(err, missingVersion)
	}
	return m, v, nil
}

// UploadDirect stores files under a declared version in one request. If
// any file fails, the files already written are deleted along with the
// version itself.
func (s *Service) UploadDirect(ctx context.Context, modelName string, version int, files []UploadFile) (*DirectUpload, error) {
	if len(files) == 0 {
		return nil, ErrInvalidArgument.New("No files provided")
	}
	for _, f := range files {
		if strings.TrimSpace(f.Filename) == "" {
			return nil, ErrInvalidArgument.New("every file needs a filename")
		}
	}

	m, v, err := s.loadVersion(ctx, modelName, version, "Version not declared")
	if err != nil {
		return nil, err
	}

	switch v.Status {
	case models.VersionDeclared:
	case models.VersionUploading:
		return nil, ErrInvalidArgument.New("a chunked upload is in progress for version %d", version)
	case models.VersionCompleted:
		return nil, ErrInvalidArgument.New("version %d is already uploaded", version)
	default:
		return nil, ErrInternal.New("version %d has unknown status %q", version, v.Status)
	}

	log := s.log.With(zap.String("model", m.Name), zap.Int("version", version))
	result := &DirectUpload{Version: version, Prefix: v.Prefix, UploadedFiles: []UploadedFile{}}

	var total int64
	for _, f := range files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = blobstore.DefaultContentType
		}
		key := blobstore.Key(v.Prefix, f.Filename)

		url, err := s.blobs.Put(ctx, key, f.Body, f.Size, contentType)
		if err != nil {
			log.Error("direct upload failed", zap.String("key", key), zap.Error(err))
			s.discardDirectUpload(ctx, log, v, result.UploadedFiles)
			return nil, ErrUploadFailure.Wrap(err)
		}

		total += f.Size
		result.UploadedFiles = append(result.UploadedFiles, UploadedFile{
			Filename:    f.Filename,
			Size:        f.Size,
			Key:         key,
			URL:         url,
			ContentType: contentType,
		})
	}

	first := result.UploadedFiles[0]
	v.Status = models.VersionCompleted
	v.UploadFilename = first.Filename
	v.UploadContentType = first.ContentType
	v.ArtifactKey = first.Key
	v.ArtifactURL = first.URL
	v.TotalSize = total
	if err := s.store.Versions().Update(ctx, v); err != nil {
		return nil, uploadFailure(err)
	}

	s.invalidate(ctx, m.Name)
	s.record(ctx, models.ActionVersionUploaded, m.Name, version, models.JSONB{"files": len(files), "total_size": total})
	log.Info("direct upload stored", zap.Int("files", len(files)), zap.Int64("total_size", total))
	return result, nil
}

// discardDirectUpload removes the blobs written by a failed direct upload
// and the version row. Every failure here is logged and swallowed.
func (s *Service) discardDirectUpload(ctx context.Context, log *zap.Logger, v *models.ModelVersion, written []UploadedFile) {
	ctx = context.WithoutCancel(ctx)

	for _, f := range written {
		if err := s.blobs.Delete(ctx, f.Key); err != nil {
			log.Warn("failed to delete partial upload", zap.String("key", f.Key), zap.Error(err))
		}
	}

	err := s.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Aliases().DeleteByVersion(ctx, v.ID); err != nil {
			return err
		}
		return tx.Versions().Delete(ctx, v.ID)
	})
	if err != nil {
		log.Warn("failed to delete version after failed upload", zap.Error(err))
	}
}

// InitiateChunked starts, or restarts with a new file name, a chunked
// upload into a declared version.
func (s *Service) InitiateChunked(ctx context.Context, modelName string, version int, filename, contentType string) (*ChunkedSession, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, ErrInvalidArgument.New("filename is required")
	}
	if contentType == "" {
		contentType = blobstore.DefaultContentType
	}

	m, v, err := s.loadVersion(ctx, modelName, version, "Version not found")
	if err != nil {
		return nil, err
	}

	switch v.Status {
	case models.VersionDeclared, models.VersionUploading:
	case models.VersionCompleted:
		return nil, ErrInvalidArgument.New("version %d is already uploaded", version)
	default:
		return nil, ErrInternal.New("version %d has unknown status %q", version, v.Status)
	}

	v.Status = models.VersionUploading
	v.UploadFilename = filename
	v.UploadContentType = contentType
	if err := s.store.Versions().Update(ctx, v); err != nil {
		return nil, uploadFailure(err)
	}

	s.record(ctx, models.ActionUploadInitiated, m.Name, version, models.JSONB{"filename": filename})
	return &ChunkedSession{
		Prefix:    v.Prefix,
		ChunkSize: s.cfg.ChunkSize,
		MaxChunks: MaxChunks,
	}, nil
}

// uploadingVersion loads a version that must be in a chunked upload.
func (s *Service) uploadingVersion(ctx context.Context, modelName string, version int) (*models.Model, *models.ModelVersion, error) {
	m, v, err := s.loadVersion(ctx, modelName, version, "Version not found")
	if err != nil {
		return nil, nil, err
	}

	switch v.Status {
	case models.VersionUploading:
		return m, v, nil
	case models.VersionDeclared, models.VersionCompleted:
		return nil, nil, ErrInvalidArgument.New("Invalid chunked upload")
	default:
		return nil, nil, ErrInternal.New("version %d has unknown status %q", version, v.Status)
	}
}

// UploadChunk stages one chunk. Chunks may arrive in any order; sending
// a chunk number again replaces the earlier payload.
func (s *Service) UploadChunk(ctx context.Context, modelName string, version, chunkNumber int, body io.Reader) (*ChunkReceipt, error) {
	if chunkNumber < 1 || chunkNumber > MaxChunks {
		return nil, ErrInvalidArgument.New("Invalid chunk number: must be between 1 and %d", MaxChunks)
	}

	m, v, err := s.uploadingVersion(ctx, modelName, version)
	if err != nil {
		return nil, err
	}

	path, size, err := s.staging.WriteChunk(ctx, m.Name, version, chunkNumber, body)
	if err != nil {
		return nil, uploadFailure(err)
	}

	chunk := &models.UploadChunk{VersionID: v.ID, ChunkNumber: chunkNumber, Path: path, Size: size}
	if err := s.store.Chunks().Put(ctx, chunk); err != nil {
		return nil, uploadFailure(err)
	}

	s.log.Debug("chunk staged",
		zap.String("model", m.Name), zap.Int("version", version),
		zap.Int("chunk", chunkNumber), zap.Int64("size", size))
	return &ChunkReceipt{ChunkNumber: chunkNumber, Size: size}, nil
}

// CompleteChunked assembles the staged chunks in ascending chunk order,
// stores the result and marks the version completed. Gaps in the chunk
// numbers are not detected.
func (s *Service) CompleteChunked(ctx context.Context, modelName string, version int) (*CompletedUpload, error) {
	m, v, err := s.uploadingVersion(ctx, modelName, version)
	if err != nil {
		return nil, err
	}

	chunks, err := s.store.Chunks().List(ctx, v.ID)
	if err != nil {
		return nil, uploadFailure(err)
	}
	if len(chunks) == 0 {
		return nil, ErrInvalidArgument.New("No chunks uploaded yet")
	}

	log := s.log.With(zap.String("model", m.Name), zap.Int("version", version))
	key := blobstore.Key(v.Prefix, v.UploadFilename)

	url, total, err := s.assembleAndStore(ctx, m.Name, v, chunks, key)
	if err != nil {
		log.Error("failed to assemble chunked upload", zap.Error(err))
		return nil, uploadFailure(err)
	}

	err = s.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Chunks().DeleteByVersion(ctx, v.ID); err != nil {
			return err
		}
		v.Status = models.VersionCompleted
		v.ArtifactKey = key
		v.ArtifactURL = url
		v.TotalSize = total
		v.TotalChunks = len(chunks)
		return tx.Versions().Update(ctx, v)
	})
	if err != nil {
		return nil, uploadFailure(err)
	}

	if err := s.staging.RemoveVersion(m.Name, version); err != nil {
		log.Warn("failed to remove staged chunks", zap.Error(err))
	}

	s.invalidate(ctx, m.Name)
	s.record(ctx, models.ActionUploadCompleted, m.Name, version, models.JSONB{"total_size": total, "total_chunks": len(chunks)})
	log.Info("chunked upload completed", zap.Int64("total_size", total), zap.Int("chunks", len(chunks)))

	return &CompletedUpload{
		Version:     version,
		Key:         key,
		Prefix:      v.Prefix,
		URL:         url,
		TotalSize:   total,
		TotalChunks: len(chunks),
	}, nil
}

// assembleAndStore concatenates chunks into a scratch file and uploads it.
func (s *Service) assembleAndStore(ctx context.Context, modelName string, v *models.ModelVersion, chunks []*models.UploadChunk, key string) (string, int64, error) {
	tmp, err := s.staging.CreateTemp(modelName, v.Version)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		tmp.Close()
		if err := s.staging.Remove(tmp.Name()); err != nil {
			s.log.Warn("failed to remove assembled file", zap.String("path", tmp.Name()), zap.Error(err))
		}
	}()

	total, err := Assemble(ctx, s.staging, chunks, tmp)
	if err != nil {
		return "", 0, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("failed to rewind assembled file: %w", err)
	}

	url, err := s.blobs.Put(ctx, key, tmp, total, v.UploadContentType)
	if err != nil {
		return "", 0, err
	}
	return url, total, nil
}

// AbortChunked discards a chunked upload together with its version.
func (s *Service) AbortChunked(ctx context.Context, modelName string, version int) error {
	m, v, err := s.uploadingVersion(ctx, modelName, version)
	if err != nil {
		return err
	}

	if err := s.staging.RemoveVersion(m.Name, version); err != nil {
		s.log.Warn("failed to remove staged chunks", zap.String("model", m.Name), zap.Int("version", version), zap.Error(err))
	}

	err = s.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Chunks().DeleteByVersion(ctx, v.ID); err != nil {
			return err
		}
		if err := tx.Aliases().DeleteByVersion(ctx, v.ID); err != nil {
			return err
		}
		return tx.Versions().Delete(ctx, v.ID)
	})
	if err != nil {
		return uploadFailure(err)
	}

	s.invalidate(ctx, m.Name)
	s.record(ctx, models.ActionUploadAborted, m.Name, version, nil)
	return nil
}
