package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"model_registry/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development setups and tests.
// Data is lost on restart. Transactions run under a store-wide lock
// against a copy of the data that replaces the original on commit.
type MemoryStore struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool
}

type chunkKey struct {
	versionID uuid.UUID
	number    int
}

type memState struct {
	models   map[uuid.UUID]models.Model
	versions map[uuid.UUID]models.ModelVersion
	chunks   map[chunkKey]models.UploadChunk
	aliases  map[uuid.UUID]models.ModelAlias
	users    map[uuid.UUID]models.User
	audit    []models.AuditEvent
	lastTime time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		state: &memState{
			models:   map[uuid.UUID]models.Model{},
			versions: map[uuid.UUID]models.ModelVersion{},
			chunks:   map[chunkKey]models.UploadChunk{},
			aliases:  map[uuid.UUID]models.ModelAlias{},
			users:    map[uuid.UUID]models.User{},
		},
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		models:   make(map[uuid.UUID]models.Model, len(st.models)),
		versions: make(map[uuid.UUID]models.ModelVersion, len(st.versions)),
		chunks:   make(map[chunkKey]models.UploadChunk, len(st.chunks)),
		aliases:  make(map[uuid.UUID]models.ModelAlias, len(st.aliases)),
		users:    make(map[uuid.UUID]models.User, len(st.users)),
		audit:    append([]models.AuditEvent(nil), st.audit...),
		lastTime: st.lastTime,
	}
	for k, v := range st.models {
		c.models[k] = v
	}
	for k, v := range st.versions {
		v.Tags = v.Tags.Clone()
		c.versions[k] = v
	}
	for k, v := range st.chunks {
		c.chunks[k] = v
	}
	for k, v := range st.aliases {
		c.aliases[k] = v
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	return c
}

// now returns a strictly increasing timestamp.
func (st *memState) now() time.Time {
	t := time.Now().UTC()
	if !t.After(st.lastTime) {
		t = st.lastTime.Add(time.Microsecond)
	}
	st.lastTime = t
	return t
}

// lock acquires the store lock unless the caller already holds it
// through InTx. Use as defer s.lock()().
func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) Models() ModelStore     { return memModels{s} }
func (s *MemoryStore) Versions() VersionStore { return memVersions{s} }
func (s *MemoryStore) Chunks() ChunkStore     { return memChunks{s} }
func (s *MemoryStore) Aliases() AliasStore    { return memAliases{s} }
func (s *MemoryStore) Users() UserStore       { return memUsers{s} }
func (s *MemoryStore) Audit() AuditStore      { return memAudit{s} }

func (s *MemoryStore) Health(ctx context.Context) error { return ctx.Err() }

// InTx runs fn against a copy of the data and publishes the copy only
// when fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{mu: s.mu, state: s.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	*s.state = *tx.state
	return nil
}

// Stats summarizes the registry contents.
func (s *MemoryStore) Stats(ctx context.Context, since time.Time) (*models.DashboardStats, error) {
	defer s.lock()()
	st := s.state

	stats := &models.DashboardStats{
		TotalModels:    len(st.models),
		TotalVersions:  len(st.versions),
		TotalAliases:   len(st.aliases),
		TopGroups:      []models.GroupCount{},
		LatestModels:   []*models.Model{},
		LatestVersions: []*models.RecentVersion{},
	}

	groups := map[string]int{}
	for _, m := range st.models {
		if _, ok := groups[m.GroupName]; !ok {
			groups[m.GroupName] = 0
		}
		if !m.CreatedAt.Before(since) {
			stats.RecentModels++
		}
		m := m
		stats.LatestModels = append(stats.LatestModels, &m)
	}
	stats.TotalGroups = len(groups)

	for _, v := range st.versions {
		if !v.CreatedAt.Before(since) {
			stats.RecentVersions++
		}
		m := st.models[v.ModelID]
		groups[m.GroupName]++
		stats.LatestVersions = append(stats.LatestVersions, &models.RecentVersion{
			ModelName: m.Name,
			Version:   v.Version,
			Status:    v.Status,
			CreatedAt: v.CreatedAt,
		})
	}

	for g, n := range groups {
		if n > 0 {
			stats.TopGroups = append(stats.TopGroups, models.GroupCount{GroupName: g, VersionCount: n})
		}
	}
	sort.Slice(stats.TopGroups, func(i, j int) bool {
		a, b := stats.TopGroups[i], stats.TopGroups[j]
		if a.VersionCount != b.VersionCount {
			return a.VersionCount > b.VersionCount
		}
		return a.GroupName < b.GroupName
	})
	sort.Slice(stats.LatestModels, func(i, j int) bool {
		return stats.LatestModels[i].CreatedAt.After(stats.LatestModels[j].CreatedAt)
	})
	sort.Slice(stats.LatestVersions, func(i, j int) bool {
		return stats.LatestVersions[i].CreatedAt.After(stats.LatestVersions[j].CreatedAt)
	})

	stats.TopGroups = stats.TopGroups[:min(5, len(stats.TopGroups))]
	stats.LatestModels = stats.LatestModels[:min(5, len(stats.LatestModels))]
	stats.LatestVersions = stats.LatestVersions[:min(5, len(stats.LatestVersions))]
	return stats, nil
}

type memModels struct{ s *MemoryStore }

func (r memModels) Create(ctx context.Context, m *models.Model) error {
	defer r.s.lock()()
	st := r.s.state

	for _, existing := range st.models {
		if existing.Name == m.Name || (existing.GroupName == m.GroupName && existing.Variant == m.Variant) {
			return fmt.Errorf("failed to create model: %w: models_name_key", ErrDuplicate)
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = st.now()
	st.models[m.ID] = *m
	return nil
}

func (r memModels) GetByName(ctx context.Context, name string) (*models.Model, error) {
	defer r.s.lock()()
	for _, m := range r.s.state.models {
		if m.Name == name {
			return &m, nil
		}
	}
	return nil, ErrModelNotFound
}

func (r memModels) GetByNameForUpdate(ctx context.Context, name string) (*models.Model, error) {
	return r.GetByName(ctx, name)
}

func (r memModels) List(ctx context.Context) ([]*models.Model, error) {
	defer r.s.lock()()
	out := []*models.Model{}
	for _, m := range r.s.state.models {
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memModels) ListByGroup(ctx context.Context, group string) ([]*models.Model, error) {
	defer r.s.lock()()
	out := []*models.Model{}
	for _, m := range r.s.state.models {
		if m.GroupName == group {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Variant < out[j].Variant })
	return out, nil
}

func (r memModels) ListGroups(ctx context.Context) ([]*models.ModelGroup, error) {
	defer r.s.lock()()
	st := r.s.state

	all := make([]models.Model, 0, len(st.models))
	for _, m := range st.models {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].GroupName != all[j].GroupName {
			return all[i].GroupName < all[j].GroupName
		}
		return all[i].Variant < all[j].Variant
	})

	groups := []*models.ModelGroup{}
	for _, m := range all {
		gv := &models.GroupVariant{
			ID:          m.ID,
			Name:        m.Name,
			Variant:     m.Variant,
			Description: m.Description,
			CreatedAt:   m.CreatedAt,
		}
		for _, v := range st.versions {
			if v.ModelID == m.ID {
				gv.VersionCount++
			}
		}
		var latest *models.ModelAlias
		for _, a := range st.aliases {
			if a.ModelID == m.ID && (latest == nil || a.UpdatedAt.After(latest.UpdatedAt)) {
				a := a
				latest = &a
			}
		}
		if latest != nil {
			alias := latest.Alias
			gv.LatestAlias = &alias
		}

		if n := len(groups); n == 0 || groups[n-1].GroupName != m.GroupName {
			groups = append(groups, &models.ModelGroup{GroupName: m.GroupName})
		}
		last := groups[len(groups)-1]
		last.Variants = append(last.Variants, gv)
	}
	return groups, nil
}

func (r memModels) SetLastVersion(ctx context.Context, id uuid.UUID, version int) error {
	defer r.s.lock()()
	m, ok := r.s.state.models[id]
	if !ok {
		return ErrModelNotFound
	}
	m.LastVersion = version
	r.s.state.models[id] = m
	return nil
}

func (r memModels) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if _, ok := r.s.state.models[id]; !ok {
		return ErrModelNotFound
	}
	delete(r.s.state.models, id)
	return nil
}

type memVersions struct{ s *MemoryStore }

func (r memVersions) Create(ctx context.Context, v *models.ModelVersion) error {
	defer r.s.lock()()
	st := r.s.state

	for _, existing := range st.versions {
		if existing.ModelID == v.ModelID && existing.Version == v.Version {
			return fmt.Errorf("failed to create model version: %w: model_versions_model_version_key", ErrDuplicate)
		}
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Tags == nil {
		v.Tags = models.JSONB{}
	}
	v.CreatedAt = st.now()
	v.UpdatedAt = v.CreatedAt

	stored := *v
	stored.Tags = v.Tags.Clone()
	st.versions[v.ID] = stored
	return nil
}

func (r memVersions) find(match func(models.ModelVersion) bool) (*models.ModelVersion, error) {
	defer r.s.lock()()
	for _, v := range r.s.state.versions {
		if match(v) {
			v.Tags = v.Tags.Clone()
			return &v, nil
		}
	}
	return nil, ErrVersionNotFound
}

func (r memVersions) Get(ctx context.Context, modelID uuid.UUID, version int) (*models.ModelVersion, error) {
	return r.find(func(v models.ModelVersion) bool { return v.ModelID == modelID && v.Version == version })
}

func (r memVersions) GetByID(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error) {
	return r.find(func(v models.ModelVersion) bool { return v.ID == id })
}

func (r memVersions) Latest(ctx context.Context, modelID uuid.UUID) (*models.ModelVersion, error) {
	all, err := r.List(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrVersionNotFound
	}
	return all[0], nil
}

func (r memVersions) MaxVersion(ctx context.Context, modelID uuid.UUID) (int, error) {
	latest, err := r.Latest(ctx, modelID)
	if errors.Is(err, ErrVersionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.Version, nil
}

func (r memVersions) List(ctx context.Context, modelID uuid.UUID) ([]*models.ModelVersion, error) {
	defer r.s.lock()()
	out := []*models.ModelVersion{}
	for _, v := range r.s.state.versions {
		if v.ModelID == modelID {
			v.Tags = v.Tags.Clone()
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r memVersions) Update(ctx context.Context, v *models.ModelVersion) error {
	if !v.Status.Valid() {
		return fmt.Errorf("invalid version status %q", v.Status)
	}

	defer r.s.lock()()
	st := r.s.state
	existing, ok := st.versions[v.ID]
	if !ok {
		return ErrVersionNotFound
	}

	existing.Status = v.Status
	existing.UploadFilename = v.UploadFilename
	existing.UploadContentType = v.UploadContentType
	existing.ArtifactKey = v.ArtifactKey
	existing.ArtifactURL = v.ArtifactURL
	existing.TotalSize = v.TotalSize
	existing.TotalChunks = v.TotalChunks
	existing.Tags = v.Tags.Clone()
	existing.UpdatedAt = st.now()
	st.versions[v.ID] = existing

	v.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r memVersions) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if _, ok := r.s.state.versions[id]; !ok {
		return ErrVersionNotFound
	}
	delete(r.s.state.versions, id)
	return nil
}

func (r memVersions) DeleteByModel(ctx context.Context, modelID uuid.UUID) error {
	defer r.s.lock()()
	for id, v := range r.s.state.versions {
		if v.ModelID == modelID {
			delete(r.s.state.versions, id)
		}
	}
	return nil
}

type memChunks struct{ s *MemoryStore }

func (r memChunks) Put(ctx context.Context, c *models.UploadChunk) error {
	defer r.s.lock()()
	st := r.s.state
	if _, ok := st.versions[c.VersionID]; !ok {
		return fmt.Errorf("failed to record chunk: %w", ErrVersionNotFound)
	}
	c.UpdatedAt = st.now()
	st.chunks[chunkKey{c.VersionID, c.ChunkNumber}] = *c
	return nil
}

func (r memChunks) List(ctx context.Context, versionID uuid.UUID) ([]*models.UploadChunk, error) {
	defer r.s.lock()()
	out := []*models.UploadChunk{}
	for k, c := range r.s.state.chunks {
		if k.versionID == versionID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out, nil
}

func (r memChunks) DeleteByVersion(ctx context.Context, versionID uuid.UUID) error {
	defer r.s.lock()()
	for k := range r.s.state.chunks {
		if k.versionID == versionID {
			delete(r.s.state.chunks, k)
		}
	}
	return nil
}

func (r memChunks) DeleteByModel(ctx context.Context, modelID uuid.UUID) error {
	defer r.s.lock()()
	st := r.s.state
	for k := range st.chunks {
		if v, ok := st.versions[k.versionID]; ok && v.ModelID == modelID {
			delete(st.chunks, k)
		}
	}
	return nil
}

type memAliases struct{ s *MemoryStore }

func (r memAliases) Upsert(ctx context.Context, a *models.ModelAlias) error {
	defer r.s.lock()()
	st := r.s.state

	target, ok := st.versions[a.VersionID]
	if !ok {
		return fmt.Errorf("failed to upsert alias: %w", ErrVersionNotFound)
	}

	now := st.now()
	for id, existing := range st.aliases {
		if existing.ModelID == a.ModelID && existing.Alias == a.Alias {
			existing.VersionID = a.VersionID
			existing.UpdatedAt = now
			st.aliases[id] = existing
			a.ID = id
			a.UpdatedAt = now
			a.Version = target.Version
			return nil
		}
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.UpdatedAt = now
	a.Version = target.Version
	st.aliases[a.ID] = *a
	return nil
}

func (r memAliases) withVersion(a models.ModelAlias) *models.ModelAlias {
	a.Version = r.s.state.versions[a.VersionID].Version
	return &a
}

func (r memAliases) Get(ctx context.Context, modelID uuid.UUID, alias string) (*models.ModelAlias, error) {
	defer r.s.lock()()
	for _, a := range r.s.state.aliases {
		if a.ModelID == modelID && a.Alias == alias {
			return r.withVersion(a), nil
		}
	}
	return nil, ErrAliasNotFound
}

func (r memAliases) List(ctx context.Context, modelID uuid.UUID) ([]*models.ModelAlias, error) {
	defer r.s.lock()()
	out := []*models.ModelAlias{}
	for _, a := range r.s.state.aliases {
		if a.ModelID == modelID {
			out = append(out, r.withVersion(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r memAliases) Delete(ctx context.Context, modelID uuid.UUID, alias string) error {
	defer r.s.lock()()
	for id, a := range r.s.state.aliases {
		if a.ModelID == modelID && a.Alias == alias {
			delete(r.s.state.aliases, id)
			return nil
		}
	}
	return ErrAliasNotFound
}

func (r memAliases) DeleteByModel(ctx context.Context, modelID uuid.UUID) error {
	defer r.s.lock()()
	for id, a := range r.s.state.aliases {
		if a.ModelID == modelID {
			delete(r.s.state.aliases, id)
		}
	}
	return nil
}

func (r memAliases) DeleteByVersion(ctx context.Context, versionID uuid.UUID) error {
	defer r.s.lock()()
	for id, a := range r.s.state.aliases {
		if a.VersionID == versionID {
			delete(r.s.state.aliases, id)
		}
	}
	return nil
}

type memUsers struct{ s *MemoryStore }

func (r memUsers) Create(ctx context.Context, u *models.User) error {
	defer r.s.lock()()
	st := r.s.state
	for _, existing := range st.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return fmt.Errorf("failed to create user: %w: users_username_key", ErrDuplicate)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = st.now()
	st.users[u.ID] = *u
	return nil
}

func (r memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	defer r.s.lock()()
	u, ok := r.s.state.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r memUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	defer r.s.lock()()
	for _, u := range r.s.state.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

type memAudit struct{ s *MemoryStore }

func (r memAudit) InsertBatch(ctx context.Context, events []*models.AuditEvent) error {
	defer r.s.lock()()
	st := r.s.state
	for _, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = st.now()
		}
		st.audit = append(st.audit, *e)
	}
	return nil
}

func (r memAudit) ListRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	defer r.s.lock()()
	st := r.s.state
	out := []*models.AuditEvent{}
	for i := len(st.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := st.audit[i]
		out = append(out, &e)
	}
	return out, nil
}
