package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"model_registry/internal/blobstore"
	"model_registry/internal/models"
	"model_registry/internal/storage"

	"go.uber.org/zap"
)

// Selector picks a version of a model. At most one of Version and
// Alias is used; see Resolve and ResolveByGroupVariant for precedence.
type Selector struct {
	Version *int
	Alias   string
}

func (sel Selector) hasVersion() bool { return sel.Version != nil }
func (sel Selector) hasAlias() bool   { return sel.Alias != "" }

// normalized trims the alias the same way SetAlias does.
func (sel Selector) normalized() Selector {
	sel.Alias = strings.TrimSpace(sel.Alias)
	return sel
}

// Resolve maps a model name and a version or alias to the version's
// storage location. When both are given the version wins.
func (s *Service) Resolve(ctx context.Context, name string, sel Selector) (*models.Resolution, error) {
	sel = sel.normalized()
	switch {
	case sel.hasVersion():
		return s.resolve(ctx, name, versionSelector(*sel.Version))
	case sel.hasAlias():
		return s.resolve(ctx, name, aliasSelector(sel.Alias))
	default:
		return nil, ErrInvalidArgument.New("Provide version or alias")
	}
}

// ResolveByGroupVariant resolves "{group}:{variant}". The alias wins over
// the version when both are given, and the latest version is used when
// neither is.
func (s *Service) ResolveByGroupVariant(ctx context.Context, group, variant string, sel Selector) (*models.Resolution, error) {
	name := models.ModelName(group, variant)
	sel = sel.normalized()
	switch {
	case sel.hasAlias():
		return s.resolve(ctx, name, aliasSelector(sel.Alias))
	case sel.hasVersion():
		return s.resolve(ctx, name, versionSelector(*sel.Version))
	default:
		return s.resolve(ctx, name, latestSelector{})
	}
}

// selector looks up one version of a model and names the result.
type selector interface {
	cacheKey() string
	find(ctx context.Context, store storage.Store, m *models.Model) (*models.ModelVersion, error)
	display(v *models.ModelVersion) string
}

type versionSelector int

func (sel versionSelector) cacheKey() string { return fmt.Sprintf("version:%d", int(sel)) }

func (sel versionSelector) find(ctx context.Context, store storage.Store, m *models.Model) (*models.ModelVersion, error) {
	v, err := store.Versions().Get(ctx, m.ID, int(sel))
	if err != nil {
		return nil, storeError(err, "Version not found")
	}
	return v, nil
}

func (sel versionSelector) display(v *models.ModelVersion) string { return fmt.Sprintf("v%d", v.Version) }

type aliasSelector string

func (sel aliasSelector) cacheKey() string { return "alias:" + string(sel) }

func (sel aliasSelector) find(ctx context.Context, store storage.Store, m *models.Model) (*models.ModelVersion, error) {
	a, err := store.Aliases().Get(ctx, m.ID, string(sel))
	if err != nil {
		return nil, storeError(err, fmt.Sprintf("Alias '%s' not found", string(sel)))
	}
	v, err := store.Versions().GetByID(ctx, a.VersionID)
	if errors.Is(err, storage.ErrVersionNotFound) {
		return nil, ErrInternal.New("alias '%s' points at a missing version", string(sel))
	}
	if err != nil {
		return nil, storeError(err, "Version not found")
	}
	return v, nil
}

func (sel aliasSelector) display(*models.ModelVersion) string { return string(sel) }

type latestSelector struct{}

func (latestSelector) cacheKey() string { return "latest" }

func (latestSelector) find(ctx context.Context, store storage.Store, m *models.Model) (*models.ModelVersion, error) {
	v, err := store.Versions().Latest(ctx, m.ID)
	if err != nil {
		return nil, storeError(err, "No versions found")
	}
	return v, nil
}

func (latestSelector) display(v *models.ModelVersion) string { return fmt.Sprintf("v%d", v.Version) }

func (s *Service) resolve(ctx context.Context, name string, sel selector) (*models.Resolution, error) {
	cacheable := s.cache != nil
	var generation int64
	if cacheable {
		res, gen, ok, err := s.cache.Get(ctx, name, sel.cacheKey())
		if err != nil {
			s.log.Warn("resolve cache read failed", zap.String("model", name), zap.Error(err))
			cacheable = false
		}
		if ok {
			return res, nil
		}
		generation = gen
	}

	m, err := s.store.Models().GetByName(ctx, name)
	if err != nil {
		return nil, storeError(err, "Model not found")
	}

	v, err := sel.find(ctx, s.store, m)
	if err != nil {
		return nil, err
	}

	res := &models.Resolution{
		Name:          m.Name,
		GroupName:     m.GroupName,
		Variant:       m.Variant,
		Version:       v.Version,
		StoragePrefix: blobstore.URL(s.blobs.Bucket(), v.Prefix),
		Endpoint:      s.blobs.Endpoint(),
		DisplayName:   fmt.Sprintf("%s:%s@%s", m.GroupName, m.Variant, sel.display(v)),
	}

	if cacheable {
		if err := s.cache.Set(ctx, name, sel.cacheKey(), generation, res); err != nil {
			s.log.Warn("resolve cache write failed", zap.String("model", name), zap.Error(err))
		}
	}
	return res, nil
}
