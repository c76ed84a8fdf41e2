package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"model_registry/internal/auth"
	"model_registry/internal/registry"
	"model_registry/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxJSONBody = 1 << 20

// Handler serves the API routes.
type Handler struct {
	reg          *registry.Service
	auth         *auth.Service
	log          *zap.Logger
	cookieSecure bool
	maxMemory    int64
}

var kindStatus = map[registry.Kind]int{
	registry.KindNotFound:        http.StatusNotFound,
	registry.KindConflict:        http.StatusConflict,
	registry.KindInvalidArgument: http.StatusBadRequest,
	registry.KindUploadFailure:   http.StatusInternalServerError,
	registry.KindInternal:        http.StatusInternalServerError,
}

// respondError maps a registry error to its status and logs server-side
// failures.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := registry.KindOf(err)
	status := kindStatus[kind]
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	utils.RespondWithErrorKind(w, status, string(kind), registry.Message(err))
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	utils.RespondWithErrorKind(w, http.StatusBadRequest, string(registry.KindInvalidArgument), fmt.Sprintf(format, args...))
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst as is.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathInt(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

// Health reports whether the metadata store and the bucket are reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.reg.Health(ctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		utils.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": registry.Message(err)})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
