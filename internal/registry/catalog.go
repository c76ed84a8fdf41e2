package registry

import (
	"context"
	"errors"
	"path"
	"strings"

	"model_registry/internal/blobstore"
	"model_registry/internal/models"
	"model_registry/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateModelRequest describes a new model. Name may be empty; when set
// it must equal "{GroupName}:{Variant}".
type CreateModelRequest struct {
	Name        string    `json:"name"`
	GroupName   string    `json:"group_name"`
	Variant     string    `json:"variant"`
	Description string    `json:"description"`
	CreatedBy   uuid.UUID `json:"-"`
}

// CreateModel registers a model.
func (s *Service) CreateModel(ctx context.Context, req CreateModelRequest) (*models.Model, error) {
	group := strings.TrimSpace(req.GroupName)
	if group == "" {
		return nil, ErrInvalidArgument.New("group_name is required")
	}
	variant := strings.TrimSpace(req.Variant)
	if variant == "" {
		variant = models.DefaultVariant
	}
	if strings.ContainsAny(group+variant, "/") || strings.Contains(variant, ":") {
		return nil, ErrInvalidArgument.New("group_name and variant may not contain '/' and variant may not contain ':'")
	}

	name := models.ModelName(group, variant)
	if req.Name != "" && req.Name != name {
		return nil, ErrInvalidArgument.New("name must be %q", name)
	}
	if req.CreatedBy == uuid.Nil {
		return nil, ErrInvalidArgument.New("creator is required")
	}

	m := &models.Model{
		Name:        name,
		GroupName:   group,
		Variant:     variant,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
	}
	if err := s.store.Models().Create(ctx, m); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrConflict.New("Model exists")
		}
		return nil, ErrInternal.Wrap(err)
	}

	s.record(ctx, models.ActionModelCreated, m.Name, 0, nil)
	return m, nil
}

// ListModels returns every model, newest first.
func (s *Service) ListModels(ctx context.Context) ([]*models.Model, error) {
	out, err := s.store.Models().List(ctx)
	return out, storeError(err, "")
}

// GetModel returns one model.
func (s *Service) GetModel(ctx context.Context, name string) (*models.Model, error) {
	m, err := s.store.Models().GetByName(ctx, name)
	if err != nil {
		return nil, storeError(err, "Model not found")
	}
	return m, nil
}

// ListGroups returns models grouped by group name.
func (s *Service) ListGroups(ctx context.Context) ([]*models.ModelGroup, error) {
	out, err := s.store.Models().ListGroups(ctx)
	return out, storeError(err, "")
}

// ListVersions returns a model's versions, newest first.
func (s *Service) ListVersions(ctx context.Context, name string) ([]*models.ModelVersion, error) {
	m, err := s.GetModel(ctx, name)
	if err != nil {
		return nil, err
	}
	out, err := s.store.Versions().List(ctx, m.ID)
	return out, storeError(err, "")
}

// DeleteModel removes a model with its aliases, chunk records and
// versions in one transaction. Stored blobs are left in place.
func (s *Service) DeleteModel(ctx context.Context, name string) error {
	m, err := s.GetModel(ctx, name)
	if err != nil {
		return err
	}

	var uploading []int
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		versions, err := tx.Versions().List(ctx, m.ID)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if v.Status == models.VersionUploading {
				uploading = append(uploading, v.Version)
			}
		}
		return deleteModelTx(ctx, tx, m)
	})
	if err != nil {
		return storeError(err, "Model not found")
	}

	s.afterModelDeleted(ctx, m, uploading)
	return nil
}

// DeleteGroup removes every variant of a group in one transaction and
// returns the deleted model names.
func (s *Service) DeleteGroup(ctx context.Context, group string) ([]string, error) {
	var (
		deleted   []*models.Model
		uploading = map[uuid.UUID][]int{}
	)
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		deleted, err = tx.Models().ListByGroup(ctx, group)
		if err != nil {
			return err
		}
		for _, m := range deleted {
			versions, err := tx.Versions().List(ctx, m.ID)
			if err != nil {
				return err
			}
			for _, v := range versions {
				if v.Status == models.VersionUploading {
					uploading[m.ID] = append(uploading[m.ID], v.Version)
				}
			}
			if err := deleteModelTx(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "Model not found")
	}
	if len(deleted) == 0 {
		return nil, ErrNotFound.New("Group '%s' not found", group)
	}

	names := make([]string, 0, len(deleted))
	for _, m := range deleted {
		s.afterModelDeleted(ctx, m, uploading[m.ID])
		names = append(names, m.Name)
	}
	return names, nil
}

// deleteModelTx deletes in dependency order: aliases, chunk records,
// versions, then the model.
func deleteModelTx(ctx context.Context, tx storage.Store, m *models.Model) error {
	if err := tx.Aliases().DeleteByModel(ctx, m.ID); err != nil {
		return err
	}
	if err := tx.Chunks().DeleteByModel(ctx, m.ID); err != nil {
		return err
	}
	if err := tx.Versions().DeleteByModel(ctx, m.ID); err != nil {
		return err
	}
	return tx.Models().Delete(ctx, m.ID)
}

func (s *Service) afterModelDeleted(ctx context.Context, m *models.Model, uploading []int) {
	for _, version := range uploading {
		if err := s.staging.RemoveVersion(m.Name, version); err != nil {
			s.log.Warn("failed to remove staged chunks", zap.String("model", m.Name), zap.Int("version", version), zap.Error(err))
		}
	}
	s.invalidate(ctx, m.Name)
	s.record(ctx, models.ActionModelDeleted, m.Name, 0, nil)
}

// SetAlias points alias at a version of the model, creating the alias
// or repointing it.
func (s *Service) SetAlias(ctx context.Context, name, alias string, version int) (*models.ModelAlias, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil, ErrInvalidArgument.New("alias is required")
	}
	if len(alias) > models.MaxAliasLength {
		return nil, ErrInvalidArgument.New("alias may be at most %d characters", models.MaxAliasLength)
	}

	m, v, err := s.loadVersion(ctx, name, version, "Version not found")
	if err != nil {
		return nil, err
	}

	a := &models.ModelAlias{ModelID: m.ID, Alias: alias, VersionID: v.ID}
	if err := s.store.Aliases().Upsert(ctx, a); err != nil {
		return nil, storeError(err, "Version not found")
	}
	a.Version = v.Version

	s.invalidate(ctx, m.Name)
	s.record(ctx, models.ActionAliasSet, m.Name, v.Version, models.JSONB{"alias": alias})
	return a, nil
}

// ListAliases returns a model's aliases, most recently updated first.
func (s *Service) ListAliases(ctx context.Context, name string) ([]*models.ModelAlias, error) {
	m, err := s.GetModel(ctx, name)
	if err != nil {
		return nil, err
	}
	out, err := s.store.Aliases().List(ctx, m.ID)
	return out, storeError(err, "")
}

// DeleteAlias removes an alias.
func (s *Service) DeleteAlias(ctx context.Context, name, alias string) error {
	m, err := s.GetModel(ctx, name)
	if err != nil {
		return err
	}
	if err := s.store.Aliases().Delete(ctx, m.ID, alias); err != nil {
		return storeError(err, "Alias not found")
	}

	s.invalidate(ctx, m.Name)
	s.record(ctx, models.ActionAliasDeleted, m.Name, 0, models.JSONB{"alias": alias})
	return nil
}

// VersionFile is a stored file of a version.
type VersionFile struct {
	Filename string `json:"filename"`
	blobstore.ObjectInfo
}

// ListVersionFiles lists the stored files of a version.
func (s *Service) ListVersionFiles(ctx context.Context, name string, version int) ([]VersionFile, error) {
	_, v, err := s.loadVersion(ctx, name, version, "Version not found")
	if err != nil {
		return nil, err
	}

	objects, err := s.blobs.List(ctx, v.Prefix)
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}

	files := make([]VersionFile, 0, len(objects))
	for _, obj := range objects {
		files = append(files, VersionFile{Filename: path.Base(obj.Key), ObjectInfo: obj})
	}
	return files, nil
}

// OpenVersionFile opens one stored file of a version. The caller closes
// the returned body.
func (s *Service) OpenVersionFile(ctx context.Context, name string, version int, filename string) (*blobstore.Object, error) {
	_, v, err := s.loadVersion(ctx, name, version, "Version not found")
	if err != nil {
		return nil, err
	}

	obj, err := s.blobs.Get(ctx, blobstore.Key(v.Prefix, filename))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNotFound.New("File '%s' not found", filename)
	}
	if err != nil {
		return nil, ErrInternal.Wrap(err)
	}
	return obj, nil
}

// DashboardStats summarizes the registry.
func (s *Service) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	stats, err := s.store.Stats(ctx, s.now().Add(-s.cfg.RecentWindow))
	return stats, storeError(err, "")
}

// RecentActivity returns the newest audit events.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	out, err := s.store.Audit().ListRecent(ctx, limit)
	return out, storeError(err, "")
}
