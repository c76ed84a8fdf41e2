package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"model_registry/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// storeFactory returns a fresh, empty store.
type storeFactory func(t *testing.T) Store

func memoryFactory(t *testing.T) Store { return NewMemoryStore() }

// postgresFactory connects to TEST_DATABASE_URL, migrates and truncates.
func postgresFactory(t *testing.T) Store {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL store tests")
	}

	db, err := NewDB(DefaultDBConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(db, zaptest.NewLogger(t)))
	_, err = db.Conn().Exec(`TRUNCATE audit_events, model_aliases, upload_chunks, model_versions, models, users`)
	require.NoError(t, err)

	return NewPostgresStore(db)
}

var factories = map[string]storeFactory{
	"memory":   memoryFactory,
	"postgres": postgresFactory,
}

func seedModel(t *testing.T, ctx context.Context, s Store, group, variant string) (*models.User, *models.Model) {
	t.Helper()
	user := &models.User{Email: group + variant + "@example.com", Username: group + variant, PasswordHash: "x"}
	require.NoError(t, s.Users().Create(ctx, user))

	m := &models.Model{
		Name:      models.ModelName(group, variant),
		GroupName: group,
		Variant:   variant,
		CreatedBy: user.ID,
	}
	require.NoError(t, s.Models().Create(ctx, m))
	return user, m
}

func seedVersion(t *testing.T, ctx context.Context, s Store, m *models.Model, n int) *models.ModelVersion {
	t.Helper()
	v := &models.ModelVersion{
		ModelID: m.ID,
		Version: n,
		Prefix:  models.VersionPrefix(m.Name, n),
		Status:  models.VersionDeclared,
	}
	require.NoError(t, s.Versions().Create(ctx, v))
	return v
}

func TestStore_Models(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			user, m := seedModel(t, ctx, s, "bert", "base")

			got, err := s.Models().GetByName(ctx, "bert:base")
			require.NoError(t, err)
			assert.Equal(t, m.ID, got.ID)
			assert.Equal(t, user.ID, got.CreatedBy)

			dup := &models.Model{Name: "bert:base", GroupName: "bert", Variant: "base", CreatedBy: user.ID}
			err = s.Models().Create(ctx, dup)
			assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

			_, err = s.Models().GetByName(ctx, "missing:base")
			assert.ErrorIs(t, err, ErrModelNotFound)

			require.NoError(t, s.Models().SetLastVersion(ctx, m.ID, 7))
			locked, err := s.Models().GetByNameForUpdate(ctx, "bert:base")
			require.NoError(t, err)
			assert.Equal(t, 7, locked.LastVersion)

			require.NoError(t, s.Models().Delete(ctx, m.ID))
			_, err = s.Models().GetByName(ctx, "bert:base")
			assert.ErrorIs(t, err, ErrModelNotFound)
		})
	}
}

func TestStore_VersionsAndChunks(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, m := seedModel(t, ctx, s, "llama", "7b")

			max, err := s.Versions().MaxVersion(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, max)

			seedVersion(t, ctx, s, m, 1)
			v2 := seedVersion(t, ctx, s, m, 2)

			err = s.Versions().Create(ctx, &models.ModelVersion{ModelID: m.ID, Version: 2, Prefix: "p", Status: models.VersionDeclared})
			assert.ErrorIs(t, err, ErrDuplicate)

			latest, err := s.Versions().Latest(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, latest.Version)

			list, err := s.Versions().List(ctx, m.ID)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, 2, list[0].Version)

			v2.Status = models.VersionUploading
			v2.UploadFilename = "weights.bin"
			require.NoError(t, s.Versions().Update(ctx, v2))

			got, err := s.Versions().GetByID(ctx, v2.ID)
			require.NoError(t, err)
			assert.Equal(t, models.VersionUploading, got.Status)
			assert.Equal(t, "weights.bin", got.UploadFilename)

			v2.Status = models.VersionAborted
			assert.Error(t, s.Versions().Update(ctx, v2))

			// The same chunk number twice keeps one record, holding the last write.
			require.NoError(t, s.Chunks().Put(ctx, &models.UploadChunk{VersionID: v2.ID, ChunkNumber: 2, Path: "a", Size: 1}))
			require.NoError(t, s.Chunks().Put(ctx, &models.UploadChunk{VersionID: v2.ID, ChunkNumber: 1, Path: "b", Size: 2}))
			require.NoError(t, s.Chunks().Put(ctx, &models.UploadChunk{VersionID: v2.ID, ChunkNumber: 2, Path: "c", Size: 3}))

			chunks, err := s.Chunks().List(ctx, v2.ID)
			require.NoError(t, err)
			require.Len(t, chunks, 2)
			assert.Equal(t, 1, chunks[0].ChunkNumber)
			assert.Equal(t, "c", chunks[1].Path)
			assert.Equal(t, int64(3), chunks[1].Size)

			require.NoError(t, s.Chunks().DeleteByVersion(ctx, v2.ID))
			chunks, err = s.Chunks().List(ctx, v2.ID)
			require.NoError(t, err)
			assert.Empty(t, chunks)

			require.NoError(t, s.Versions().Delete(ctx, v2.ID))
			assert.ErrorIs(t, s.Versions().Delete(ctx, v2.ID), ErrVersionNotFound)
		})
	}
}

func TestStore_Aliases(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, m := seedModel(t, ctx, s, "gpt", "small")
			v1 := seedVersion(t, ctx, s, m, 1)
			v2 := seedVersion(t, ctx, s, m, 2)

			first := &models.ModelAlias{ModelID: m.ID, Alias: "prod", VersionID: v1.ID}
			require.NoError(t, s.Aliases().Upsert(ctx, first))

			time.Sleep(2 * time.Millisecond)
			second := &models.ModelAlias{ModelID: m.ID, Alias: "prod", VersionID: v2.ID}
			require.NoError(t, s.Aliases().Upsert(ctx, second))
			assert.Equal(t, first.ID, second.ID)
			assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

			list, err := s.Aliases().List(ctx, m.ID)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, 2, list[0].Version)

			groups, err := s.Models().ListGroups(ctx)
			require.NoError(t, err)
			require.Len(t, groups, 1)
			require.Len(t, groups[0].Variants, 1)
			require.NotNil(t, groups[0].Variants[0].LatestAlias)
			assert.Equal(t, "prod", *groups[0].Variants[0].LatestAlias)
			assert.Equal(t, 2, groups[0].Variants[0].VersionCount)

			require.NoError(t, s.Aliases().Delete(ctx, m.ID, "prod"))
			_, err = s.Aliases().Get(ctx, m.ID, "prod")
			assert.ErrorIs(t, err, ErrAliasNotFound)
			assert.ErrorIs(t, s.Aliases().Delete(ctx, m.ID, "prod"), ErrAliasNotFound)
		})
	}
}

func TestStore_InTxRollsBack(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, m := seedModel(t, ctx, s, "t5", "xl")

			boom := errors.New("boom")
			err := s.InTx(ctx, func(tx Store) error {
				if _, err := tx.Versions().MaxVersion(ctx, m.ID); err != nil {
					return err
				}
				v := &models.ModelVersion{ModelID: m.ID, Version: 1, Prefix: "p", Status: models.VersionDeclared}
				if err := tx.Versions().Create(ctx, v); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			list, err := s.Versions().List(ctx, m.ID)
			require.NoError(t, err)
			assert.Empty(t, list)

			err = s.InTx(ctx, func(tx Store) error {
				v := &models.ModelVersion{ModelID: m.ID, Version: 1, Prefix: "p", Status: models.VersionDeclared}
				if err := tx.Versions().Create(ctx, v); err != nil {
					return err
				}
				return tx.Models().SetLastVersion(ctx, m.ID, 1)
			})
			require.NoError(t, err)

			list, err = s.Versions().List(ctx, m.ID)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStore_StatsAndAudit(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			user, m := seedModel(t, ctx, s, "whisper", "tiny")
			seedVersion(t, ctx, s, m, 1)

			stats, err := s.Stats(ctx, time.Now().Add(-7*24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, stats.TotalModels)
			assert.Equal(t, 1, stats.TotalGroups)
			assert.Equal(t, 1, stats.TotalVersions)
			assert.Equal(t, 1, stats.RecentVersions)
			require.Len(t, stats.TopGroups, 1)
			assert.Equal(t, "whisper", stats.TopGroups[0].GroupName)
			require.Len(t, stats.LatestVersions, 1)
			assert.Equal(t, "whisper:tiny", stats.LatestVersions[0].ModelName)

			uid := user.ID
			version := 1
			events := []*models.AuditEvent{
				{UserID: &uid, Action: models.ActionVersionDeclared, ModelName: m.Name, Version: &version},
				{Action: models.ActionAliasSet, ModelName: m.Name, Detail: models.JSONB{"alias": "prod"}},
			}
			require.NoError(t, s.Audit().InsertBatch(ctx, events))

			recent, err := s.Audit().ListRecent(ctx, 10)
			require.NoError(t, err)
			assert.Len(t, recent, 2)
		})
	}
}

func TestStore_Users(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			u := &models.User{Email: "a@example.com", Username: "alice", PasswordHash: "h"}
			require.NoError(t, s.Users().Create(ctx, u))

			got, err := s.Users().GetByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, u.ID, got.ID)

			_, err = s.Users().GetByID(ctx, uuid.New())
			assert.ErrorIs(t, err, ErrUserNotFound)

			err = s.Users().Create(ctx, &models.User{Email: "a@example.com", Username: "other", PasswordHash: "h"})
			assert.ErrorIs(t, err, ErrDuplicate)
		})
	}
}
