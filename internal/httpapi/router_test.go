package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"model_registry/internal/auth"
	"model_registry/internal/blobstore"
	mw "model_registry/internal/middleware"
	"model_registry/internal/models"
	"model_registry/internal/registry"
	"model_registry/internal/staging"
	"model_registry/internal/storage"
	"model_registry/internal/utils"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type apiEnv struct {
	router http.Handler
	blobs  *blobstore.MemoryStore
	token  string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	blobs := blobstore.NewMemoryStore("models")
	log := zaptest.NewLogger(t)

	reg := registry.NewService(store, blobs, staging.New(afero.NewMemMapFs()), log, registry.DefaultConfig())
	authSvc := auth.NewService(store.Users(), auth.NewTokenIssuer([]byte("test-secret"), time.Hour))

	env := &apiEnv{
		router: NewRouter(Dependencies{Registry: reg, Auth: authSvc, Log: log}),
		blobs:  blobs,
	}

	w := env.do(t, http.MethodPost, "/api/auth/signup", jsonBody(t, signupRequest{Email: "ada@example.com", Password: "hunter2"}), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tok tokenResponse
	decode(t, w, &tok)
	env.token = tok.AccessToken
	return env
}

func (e *apiEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) createModel(t *testing.T, group, variant string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/models", jsonBody(t, createModelRequest{GroupName: group, Variant: variant}), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var m models.Model
	decode(t, w, &m)
	return m.Name
}

func (e *apiEnv) declare(t *testing.T, name string) int {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/models/"+name+"/versions/declare", nil, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d registry.DeclaredVersion
	decode(t, w, &d)
	return d.Version
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func multipartBody(t *testing.T, fields map[string]string, field string, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mp.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mp.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mp.Close())
	return &buf, mp.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)

	for _, path := range []string{"/health", "/api/health"} {
		w := env.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ok"`)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.token = ""

	w := env.do(t, http.MethodPost, "/api/auth/signup", jsonBody(t, signupRequest{Email: "ada@example.com", Password: "x"}), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/signup", jsonBody(t, signupRequest{Email: "", Password: "x"}), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", jsonBody(t, loginRequest{Username: "ada@example.com", Password: "wrong"}), "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", jsonBody(t, loginRequest{Username: "ada@example.com", Password: "hunter2"}), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == mw.CookieName {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, 3600, session.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(session)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id")

	w = env.do(t, http.MethodGet, "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMutationsRequireAuth(t *testing.T) {
	env := newAPIEnv(t)
	name := env.createModel(t, "vision", "base")
	env.token = ""

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/models"},
		{http.MethodDelete, "/api/models/" + name},
		{http.MethodPost, "/api/models/" + name + "/versions/declare"},
		{http.MethodPut, "/api/models/" + name + "/versions/1/chunks/1"},
		{http.MethodPost, "/api/models/" + name + "/aliases/prod"},
		{http.MethodGet, "/api/dashboard/stats"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, nil, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	w := env.do(t, http.MethodGet, "/api/models/"+name, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateModelErrors(t *testing.T) {
	env := newAPIEnv(t)
	env.createModel(t, "vision", "base")

	tests := []struct {
		name   string
		req    createModelRequest
		status int
		kind   string
	}{
		{"duplicate", createModelRequest{GroupName: "vision", Variant: "base"}, http.StatusConflict, "conflict"},
		{"missing group", createModelRequest{Variant: "base"}, http.StatusBadRequest, "invalid_argument"},
		{"name mismatch", createModelRequest{Name: "other", GroupName: "vision", Variant: "tiny"}, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/models", jsonBody(t, tt.req), "application/json")
			assert.Equal(t, tt.status, w.Code)
			var resp utils.ErrorResponse
			decode(t, w, &resp)
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestDirectUploadAndDownload(t *testing.T) {
	env := newAPIEnv(t)
	name := env.createModel(t, "vision", "base")
	version := env.declare(t, name)
	assert.Equal(t, 1, version)

	body, ct := multipartBody(t, map[string]string{"version": "1"}, "files", map[string]string{
		"config.json": `{"layers":2}`,
		"weights.bin": "WEIGHTS",
	})
	w := env.do(t, http.MethodPost, "/api/models/"+name+"/versions/new", body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res registry.DirectUpload
	decode(t, w, &res)
	assert.Equal(t, 1, res.Version)
	assert.Len(t, res.UploadedFiles, 2)
	assert.Equal(t, 2, env.blobs.Len())

	w = env.do(t, http.MethodGet, "/api/models/"+name+"/versions/1/download", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Files []versionFile `json:"files"`
	}
	decode(t, w, &listing)
	require.Len(t, listing.Files, 2)
	assert.True(t, strings.HasSuffix(listing.Files[0].DownloadURL, "/download/"+listing.Files[0].Filename))

	w = env.do(t, http.MethodGet, "/api/models/"+name+"/versions/1/download/weights.bin", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "WEIGHTS", w.Body.String())
	assert.Equal(t, "7", w.Header().Get("Content-Length"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "weights.bin")

	w = env.do(t, http.MethodGet, "/api/models/"+name+"/versions/1/download/missing.bin", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A completed version cannot be uploaded again.
	body, ct = multipartBody(t, map[string]string{"version": "1"}, "files", map[string]string{"x": "y"})
	w = env.do(t, http.MethodPost, "/api/models/"+name+"/versions/new", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChunkedUpload(t *testing.T) {
	env := newAPIEnv(t)
	name := env.createModel(t, "llm", "7b")
	version := env.declare(t, name)
	base := "/api/models/" + name + "/versions/1"

	// Chunks are refused before initiation.
	w := env.do(t, http.MethodPut, base+"/chunks/1", strings.NewReader("AA"), "application/octet-stream")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/chunked/initiate", jsonBody(t, initiateRequest{Filename: "model.safetensors"}), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var session registry.ChunkedSession
	decode(t, w, &session)
	assert.Equal(t, registry.MaxChunks, session.MaxChunks)

	w = env.do(t, http.MethodPut, base+"/chunks/2", strings.NewReader("BB"), "application/octet-stream")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body, ct := multipartBody(t, nil, "chunk", map[string]string{"blob": "AA"})
	w = env.do(t, http.MethodPut, base+"/chunks/1", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var receipt registry.ChunkReceipt
	decode(t, w, &receipt)
	assert.Equal(t, int64(2), receipt.Size)

	w = env.do(t, http.MethodPut, base+"/chunks/0", strings.NewReader("X"), "application/octet-stream")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPut, base+"/chunks/abc", strings.NewReader("X"), "application/octet-stream")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/chunked/complete", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var done registry.CompletedUpload
	decode(t, w, &done)
	assert.Equal(t, version, done.Version)
	assert.Equal(t, int64(4), done.TotalSize)
	assert.Equal(t, 2, done.TotalChunks)

	w = env.do(t, http.MethodGet, base+"/download/model.safetensors", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AABB", w.Body.String())
}

func TestAbortChunkedUpload(t *testing.T) {
	env := newAPIEnv(t)
	name := env.createModel(t, "llm", "7b")
	env.declare(t, name)
	base := "/api/models/" + name + "/versions/1"

	w := env.do(t, http.MethodPost, base+"/chunked/initiate", jsonBody(t, initiateRequest{Filename: "m.bin"}), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, base+"/chunked/abort", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = env.do(t, http.MethodDelete, base+"/chunked/abort", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 2, env.declare(t, name))
}

func TestAliasesAndResolve(t *testing.T) {
	env := newAPIEnv(t)
	name := env.createModel(t, "vision", "base")
	for i := 0; i < 2; i++ {
		v := env.declare(t, name)
		body, ct := multipartBody(t, map[string]string{"version": strconv.Itoa(v)}, "files", map[string]string{"w.bin": "data"})
		w := env.do(t, http.MethodPost, "/api/models/"+name+"/versions/new", body, ct)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodPost, "/api/models/"+name+"/aliases/prod?version=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/models/"+name+"/aliases/staging", jsonBody(t, map[string]int{"version": 2}), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/models/"+name+"/aliases/broken", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/api/models/"+name+"/aliases/ghost?version=9", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/models/"+name+"/aliases", nil, "")
	var aliases []models.ModelAlias
	decode(t, w, &aliases)
	assert.Len(t, aliases, 2)

	tests := []struct {
		name    string
		path    string
		status  int
		version int
	}{
		{"by alias", "/api/models/" + name + "/resolve?alias=prod", http.StatusOK, 1},
		{"by version", "/api/models/" + name + "/resolve?version=2", http.StatusOK, 2},
		{"version wins", "/api/models/" + name + "/resolve?version=2&alias=prod", http.StatusOK, 2},
		{"no selector", "/api/models/" + name + "/resolve", http.StatusBadRequest, 0},
		{"unknown alias", "/api/models/" + name + "/resolve?alias=nope", http.StatusNotFound, 0},
		{"group latest", "/api/resolve/vision/base", http.StatusOK, 2},
		{"group alias", "/api/resolve/vision/base?alias=prod", http.StatusOK, 1},
		{"unknown group", "/api/resolve/audio/base", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, nil, "")
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			var res models.Resolution
			decode(t, w, &res)
			assert.Equal(t, tt.version, res.Version)
			assert.Equal(t, "s3://models/"+name+"/versions/"+strconv.Itoa(tt.version), res.StoragePrefix)
		})
	}

	w = env.do(t, http.MethodDelete, "/api/models/"+name+"/aliases/prod", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/models/"+name+"/resolve?alias=prod", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteModelAndGroup(t *testing.T) {
	env := newAPIEnv(t)
	name := env.createModel(t, "vision", "base")
	env.createModel(t, "vision", "large")
	env.createModel(t, "audio", "base")
	env.declare(t, name)

	w := env.do(t, http.MethodGet, "/api/models/groups", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var groups []models.ModelGroup
	decode(t, w, &groups)
	assert.Len(t, groups, 2)

	w = env.do(t, http.MethodDelete, "/api/models/"+name, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodGet, "/api/models/"+name, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/models/groups/vision", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "vision:large")

	w = env.do(t, http.MethodDelete, "/api/models/groups/vision", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/models", nil, "")
	var list []models.Model
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "audio:base", list[0].Name)
}

func TestDashboard(t *testing.T) {
	env := newAPIEnv(t)
	name := env.createModel(t, "vision", "base")
	env.declare(t, name)

	w := env.do(t, http.MethodGet, "/api/dashboard/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats models.DashboardStats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.TotalModels)
	assert.Equal(t, 1, stats.TotalVersions)

	w = env.do(t, http.MethodGet, "/api/dashboard/activity?limit=5", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var events []models.AuditEvent
	decode(t, w, &events)
	assert.Empty(t, events)
}
