package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/capture"
	"github.com/maauso/clipvault-api/internal/clip"
	"github.com/maauso/clipvault-api/internal/helix"
	"github.com/maauso/clipvault-api/internal/ingest"
	"github.com/maauso/clipvault-api/internal/lifecycle"
	"github.com/maauso/clipvault-api/internal/stream"
	"github.com/maauso/clipvault-api/internal/upstream"
)

// ClipReader is the read side of the clip store.
type ClipReader interface {
	Get(ctx context.Context, clipName string) (*clip.Clip, error)
	Recent(ctx context.Context, offset int) ([]*clip.Clip, error)
	ByCreator(ctx context.Context, creatorID int64, offset int) ([]*clip.Clip, error)
}

// Importer starts clip imports.
type Importer interface {
	Import(ctx context.Context, user ingest.Requester, sourceURL string) (ingest.ImportResult, error)
}

// Trimmer trims stored clips.
type Trimmer interface {
	Trim(ctx context.Context, clipName string, start, end float64) error
}

// Deleter removes stored clips.
type Deleter interface {
	Delete(ctx context.Context, clipName string) error
}

// Editor updates clip metadata.
type Editor interface {
	Rename(ctx context.Context, clipName, title string) (*clip.Clip, error)
}

// Capturer clips the live broadcast for a user.
type Capturer interface {
	Capture(ctx context.Context, user capture.Requester) (*clip.Clip, bool, error)
}

// DownloadLinker requests download links for provider assets.
type DownloadLinker interface {
	RequestDownloadURL(ctx context.Context, assetID string) (stream.Download, error)
}

// StatusReporter reports the broadcaster's live status.
type StatusReporter interface {
	Status(ctx context.Context, mode helix.Mode) (helix.Status, error)
}

// Services are the domain collaborators used by the handlers.
type Services struct {
	Clips     ClipReader
	Importer  Importer
	Trimmer   Trimmer
	Deleter   Deleter
	Editor    Editor
	Downloads DownloadLinker
	// Capturer is optional; without it POST /clips/capture answers 503.
	Capturer Capturer
	// Status is optional; without it GET /stream/status answers 503.
	Status   StatusReporter
	Sessions *auth.SessionIssuer
	Users    auth.UserStore
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	svc          Services
	validator    *validator.Validate
	logger       *slog.Logger
	secureCookie bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithSecureCookies marks session cookies as Secure.
func WithSecureCookies(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.secureCookie = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc Services, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		svc:          svc,
		validator:    validator.New(),
		logger:       logger,
		secureCookie: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ImportClip handles POST /clips/import requests.
func (h *Handlers) ImportClip(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
		return
	}

	var req ImportClipRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Importer.Import(r.Context(), ingest.Requester{ID: user.ID, DisplayName: user.DisplayName}, req.URL)
	if err != nil {
		h.writeServiceError(w, err, "import clip")
		return
	}

	if res.Status == ingest.StatusAlreadyImported {
		writeJSON(w, http.StatusOK, ImportClipResponse{
			Status:   string(res.Status),
			ClipName: res.ClipName,
			Message:  "clip was already imported",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, ImportClipResponse{
		Status:   string(res.Status),
		ClipName: res.ClipName,
		Message:  "clip import started; it will be available once processing finishes",
	})
}

// CaptureClip handles POST /clips/capture requests.
func (h *Handlers) CaptureClip(w http.ResponseWriter, r *http.Request) {
	if h.svc.Capturer == nil {
		writeError(w, http.StatusServiceUnavailable, "live capture is not configured", "CAPTURE_DISABLED")
		return
	}
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
		return
	}

	c, created, err := h.svc.Capturer.Capture(r.Context(), capture.Requester{ID: user.ID, DisplayName: user.DisplayName})
	if err != nil {
		h.writeServiceError(w, err, "capture clip")
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, toClipResponse(c))
}

// EditClip handles PATCH /clips/{name} requests.
func (h *Handlers) EditClip(w http.ResponseWriter, r *http.Request) {
	var req EditClipRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.svc.Editor.Rename(r.Context(), r.PathValue("name"), req.ContentName)
	if err != nil {
		h.writeServiceError(w, err, "edit clip")
		return
	}
	writeJSON(w, http.StatusOK, toClipResponse(c))
}

// TrimClip handles POST /clips/{name}/trim requests.
func (h *Handlers) TrimClip(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req TrimClipRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.Trimmer.Trim(r.Context(), name, req.Start, req.End); err != nil {
		h.writeServiceError(w, err, "trim clip")
		return
	}

	c, err := h.svc.Clips.Get(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, err, "trim clip")
		return
	}
	writeJSON(w, http.StatusOK, toClipResponse(c))
}

// DeleteClip handles DELETE /clips/{name} requests.
func (h *Handlers) DeleteClip(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Deleter.Delete(r.Context(), r.PathValue("name")); err != nil {
		h.writeServiceError(w, err, "delete clip")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetClip handles GET /clips/{name} requests.
func (h *Handlers) GetClip(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Clips.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeServiceError(w, err, "get clip")
		return
	}
	writeJSON(w, http.StatusOK, toClipResponse(c))
}

// ListClips handles GET /clips requests.
func (h *Handlers) ListClips(w http.ResponseWriter, r *http.Request) {
	offset, ok := parseOffset(w, r)
	if !ok {
		return
	}
	clips, err := h.svc.Clips.Recent(r.Context(), offset)
	if err != nil {
		h.writeServiceError(w, err, "list clips")
		return
	}
	writeJSON(w, http.StatusOK, toClipList(clips, offset))
}

// ListUserClips handles GET /users/{id}/clips requests.
func (h *Handlers) ListUserClips(w http.ResponseWriter, r *http.Request) {
	creatorID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user id must be an integer", "VALIDATION_ERROR")
		return
	}
	offset, ok := parseOffset(w, r)
	if !ok {
		return
	}
	clips, err := h.svc.Clips.ByCreator(r.Context(), creatorID, offset)
	if err != nil {
		h.writeServiceError(w, err, "list user clips")
		return
	}
	writeJSON(w, http.StatusOK, toClipList(clips, offset))
}

// DownloadClip handles GET /clips/{name}/download requests.
func (h *Handlers) DownloadClip(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Clips.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeServiceError(w, err, "download clip")
		return
	}
	if !c.IsReady() {
		writeError(w, http.StatusConflict, "clip is still being processed", "CLIP_NOT_READY")
		return
	}

	dl, err := h.svc.Downloads.RequestDownloadURL(r.Context(), c.ContentID)
	if err != nil {
		h.writeServiceError(w, err, "download clip")
		return
	}
	writeJSON(w, http.StatusOK, DownloadResponse{
		Status:          dl.Status,
		URL:             dl.URL,
		PercentComplete: dl.PercentComplete,
	})
}

// StreamStatus handles GET /stream/status requests.
func (h *Handlers) StreamStatus(w http.ResponseWriter, r *http.Request) {
	if h.svc.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "stream status is not configured", "STATUS_DISABLED")
		return
	}
	st, err := h.svc.Status.Status(r.Context(), helix.Mode(r.URL.Query().Get("mode")))
	if err != nil {
		if errors.Is(err, helix.ErrUnknownMode) {
			writeError(w, http.StatusBadRequest, "mode must be user or app", "VALIDATION_ERROR")
			return
		}
		h.writeServiceError(w, err, "stream status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RefreshSession handles POST /auth/refresh requests. It rotates the
// session pair for the user named by a valid refresh token.
func (h *Handlers) RefreshSession(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(refreshCookie); err == nil {
		token = c.Value
	}
	if token == "" && r.ContentLength != 0 {
		var req RefreshSessionRequest
		if !h.decode(w, r, &req) {
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "refresh token required", "UNAUTHORIZED")
		return
	}

	claims, err := h.svc.Sessions.Validate(token)
	if err != nil || !claims.IsRefresh() {
		writeError(w, http.StatusUnauthorized, "invalid refresh token", "UNAUTHORIZED")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token", "UNAUTHORIZED")
		return
	}
	if _, err := h.svc.Users.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown user", "UNAUTHORIZED")
			return
		}
		h.writeServiceError(w, err, "refresh session")
		return
	}

	pair, err := h.svc.Sessions.Issue(userID)
	if err != nil {
		h.writeServiceError(w, err, "refresh session")
		return
	}
	h.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, SessionResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (h *Handlers) setSessionCookies(w http.ResponseWriter, pair auth.SessionPair) {
	for name, value := range map[string]string{accessCookie: pair.AccessToken, refreshCookie: pair.RefreshToken} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeServiceError maps domain errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ingest.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "unsupported clip URL", "INVALID_URL")
	case errors.Is(err, lifecycle.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "trimmed clip must be at least 10 seconds long", "INVALID_RANGE")
	case errors.Is(err, lifecycle.ErrInvalidTitle):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_TITLE")
	case errors.Is(err, clip.ErrNotFound):
		writeError(w, http.StatusNotFound, "clip not found", "CLIP_NOT_FOUND")
	case errors.Is(err, ingest.ErrNotFound):
		writeError(w, http.StatusNotFound, "source clip not found", "SOURCE_NOT_FOUND")
	case errors.Is(err, ingest.ErrForbidden):
		writeError(w, http.StatusForbidden, "clips from this channel cannot be imported", "CHANNEL_NOT_ALLOWED")
	case errors.Is(err, lifecycle.ErrNotReady):
		writeError(w, http.StatusConflict, "clip is still being processed", "CLIP_NOT_READY")
	case errors.Is(err, lifecycle.ErrPartialFailure):
		h.logger.Error(op+" partially failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "clip deleted; stored media will be removed later", "PARTIAL_FAILURE")
	case errors.Is(err, auth.ErrRefreshFailed), errors.Is(err, upstream.ErrUnauthorized):
		h.logger.Warn(op+" needs re-authorization", slog.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, "re-authorization required", "REAUTH_REQUIRED")
	case errors.Is(err, lifecycle.ErrUpstreamFailure), errors.Is(err, ingest.ErrResolveFailed),
		errors.Is(err, upstream.ErrRequestFailed), errors.Is(err, stream.ErrRejected),
		errors.Is(err, capture.ErrEmptyResponse):
		h.logger.Error(op+" failed upstream", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "upstream service failed", "UPSTREAM_FAILURE")
	default:
		h.logger.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func parseOffset(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0, true
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer", "VALIDATION_ERROR")
		return 0, false
	}
	return offset, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
