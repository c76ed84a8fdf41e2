package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"model_registry/internal/registry"
	"model_registry/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (h *Handler) Declare(w http.ResponseWriter, r *http.Request) {
	declared, err := h.reg.Declare(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, declared)
}

// UploadDirect stores the multipart "files" parts under a declared
// version given by the "version" query or form field.
func (h *Handler) UploadDirect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		badRequest(w, "Expected a multipart form: %v", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	version, err := strconv.Atoi(r.FormValue("version"))
	if err != nil {
		badRequest(w, "version is required and must be an integer")
		return
	}

	headers := r.MultipartForm.File["files"]
	files := make([]registry.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			badRequest(w, "Failed to read file %s", fh.Filename)
			return
		}
		defer f.Close()

		files = append(files, registry.UploadFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}

	res, err := h.reg.UploadDirect(r.Context(), chi.URLParam(r, "name"), version, files)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, res)
}

type initiateRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// InitiateChunked accepts a JSON body or form/query fields.
func (h *Handler) InitiateChunked(w http.ResponseWriter, r *http.Request) {
	version, err := pathInt(r, "version")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	var req initiateRequest
	if isJSON(r) {
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body")
			return
		}
	} else {
		req.Filename = r.FormValue("filename")
		req.ContentType = r.FormValue("content_type")
	}

	session, err := h.reg.InitiateChunked(r.Context(), chi.URLParam(r, "name"), version, req.Filename, req.ContentType)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, session)
}

// UploadChunk streams either the multipart "chunk" part or the raw body
// into staging.
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	version, err := pathInt(r, "version")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	chunk, err := pathInt(r, "chunk")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	body, closeBody, err := chunkBody(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	defer closeBody()

	receipt, err := h.reg.UploadChunk(r.Context(), chi.URLParam(r, "name"), version, chunk, body)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, receipt)
}

func chunkBody(r *http.Request) (io.Reader, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, noop, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, noop, fmt.Errorf("invalid multipart body: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, noop, errors.New("missing chunk part")
		}
		if err != nil {
			return nil, noop, fmt.Errorf("invalid multipart body: %w", err)
		}
		if part.FormName() == "chunk" {
			return part, func() { part.Close() }, nil
		}
		part.Close()
	}
}

func (h *Handler) CompleteChunked(w http.ResponseWriter, r *http.Request) {
	version, err := pathInt(r, "version")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	res, err := h.reg.CompleteChunked(r.Context(), chi.URLParam(r, "name"), version)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) AbortChunked(w http.ResponseWriter, r *http.Request) {
	version, err := pathInt(r, "version")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.reg.AbortChunked(r.Context(), chi.URLParam(r, "name"), version); err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type versionFile struct {
	registry.VersionFile
	DownloadURL string `json:"download_url"`
}

func (h *Handler) ListVersionFiles(w http.ResponseWriter, r *http.Request) {
	version, err := pathInt(r, "version")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	files, err := h.reg.ListVersionFiles(r.Context(), chi.URLParam(r, "name"), version)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	base := strings.TrimSuffix(r.URL.Path, "/")
	out := make([]versionFile, 0, len(files))
	for _, f := range files {
		out = append(out, versionFile{VersionFile: f, DownloadURL: base + "/" + f.Filename})
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"version": version, "files": out})
}

func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	version, err := pathInt(r, "version")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	filename := chi.URLParam(r, "filename")

	obj, err := h.reg.OpenVersionFile(r.Context(), chi.URLParam(r, "name"), version, filename)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		h.log.Warn("download interrupted", zap.String("file", filename), zap.Error(err))
	}
}

func isJSON(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json"
}
