package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tagledger/internal/apperr"
	"github.com/starford/tagledger/internal/models"
	"github.com/starford/tagledger/internal/settings"
	"github.com/starford/tagledger/internal/tagservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *tagservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *tagservice.Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the file path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decodeBody reads a JSON body into v and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, v validation.Validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

// writeServiceError maps domain errors to status codes. Unknown errors are logged.
func writeServiceError(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrOutOfRange):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrDisabled), errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// GetFile handles GET /api/files/*.
//
//	@Summary		Get every tag occurrence of a file with its detail
//	@Tags			details
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	FileDetails
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{path} [get]
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	details, err := h.svc.Details(r.Context(), path)
	if err != nil {
		writeServiceError(w, "get file", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// AttachDetail handles POST /api/details/attach.
//
//	@Summary		Attach a detail record to a tag occurrence
//	@Tags			details
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DetailRef	true	"Occurrence"
//	@Success		200		{object}	RecordResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/details/attach [post]
func (h *Handler) AttachDetail(w http.ResponseWriter, r *http.Request) {
	var req DetailRef
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := h.svc.AttachDetail(r.Context(), req.Path, *req.Index)
	if err != nil {
		writeServiceError(w, "attach detail", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Path: req.Path, Index: *req.Index, Detail: rec})
}

// SetAttribute handles PUT /api/details/attribute.
//
//	@Summary		Set one attribute of a tag detail
//	@Tags			details
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AttributeRequest	true	"Attribute"
//	@Success		200		{object}	RecordResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/details/attribute [put]
func (h *Handler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	var req AttributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := h.svc.SetAttribute(r.Context(), req.Path, *req.Index, req.Name, req.Value)
	if err != nil {
		writeServiceError(w, "set attribute", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Path: req.Path, Index: *req.Index, Detail: rec})
}

// DeleteAttribute handles DELETE /api/details/attribute.
//
//	@Summary		Delete one attribute of a tag detail
//	@Tags			details
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AttributeRequest	true	"Attribute"
//	@Success		200		{object}	RecordResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/details/attribute [delete]
func (h *Handler) DeleteAttribute(w http.ResponseWriter, r *http.Request) {
	var req AttributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := h.svc.DeleteAttribute(r.Context(), req.Path, *req.Index, req.Name)
	if err != nil {
		writeServiceError(w, "delete attribute", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Path: req.Path, Index: *req.Index, Detail: rec})
}

// SetItem handles PUT /api/details/item.
//
//	@Summary		Set one typed item of a tag detail
//	@Tags			details
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ItemRequest	true	"Item"
//	@Success		200		{object}	RecordResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/details/item [put]
func (h *Handler) SetItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item := models.TypedItem{Type: req.Type, Raw: req.Raw}
	rec, err := h.svc.SetItem(r.Context(), req.Path, *req.Index, req.Name, item)
	if err != nil {
		writeServiceError(w, "set item", err, slog.String("path", req.Path))
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Path: req.Path, Index: *req.Index, Detail: rec})
}

// ClearDetail handles DELETE /api/details.
//
//	@Summary		Remove the detail of a tag occurrence
//	@Tags			details
//	@Accept			json
//	@Param			body	body	DetailRef	true	"Occurrence"
//	@Success		204		"Detail removed"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/details [delete]
func (h *Handler) ClearDetail(w http.ResponseWriter, r *http.Request) {
	var req DetailRef
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.ClearDetail(r.Context(), req.Path, *req.Index); err != nil {
		writeServiceError(w, "clear detail", err, slog.String("path", req.Path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListByTag handles GET /api/tags/{tag}.
//
//	@Summary		List every occurrence of a tag across the vault
//	@Tags			tags
//	@Produce		json
//	@Param			tag	path		string	true	"Tag, with or without the leading #"
//	@Success		200	{object}	TagResponse
//	@Security		BearerAuth
//	@Router			/tags/{tag} [get]
func (h *Handler) ListByTag(w http.ResponseWriter, r *http.Request) {
	tag, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid tag"))
		return
	}
	rows, err := h.svc.ListByTag(r.Context(), tag)
	if err != nil {
		writeServiceError(w, "list by tag", err, slog.String("tag", tag))
		return
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	writeJSON(w, http.StatusOK, TagResponse{Tag: tag, Results: rows})
}

// Search handles GET /api/search.
//
//	@Summary		Search tag text and detail content
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeServiceError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: rows})
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Get tag detail settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	settings.Options
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// UpdateSettings handles PUT /api/settings.
//
//	@Summary		Replace tag detail settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		settings.Options	true	"Settings"
//	@Success		200		{object}	settings.Options
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var opts settings.Options
	if !decodeBody(w, r, &opts) {
		return
	}
	out, err := h.svc.UpdateSettings(r.Context(), opts)
	if err != nil {
		writeServiceError(w, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ReviewQueue handles GET /api/review.
//
//	@Summary		List files flagged for review after an ambiguous edit
//	@Tags			review
//	@Produce		json
//	@Success		200	{object}	ReviewResponse
//	@Security		BearerAuth
//	@Router			/review [get]
func (h *Handler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ReviewQueue(r.Context())
	if err != nil {
		writeServiceError(w, "review queue", err)
		return
	}
	writeJSON(w, http.StatusOK, ReviewResponse{Items: items})
}

// ResolveReview handles DELETE /api/review/*.
//
//	@Summary		Remove a file from the review queue
//	@Tags			review
//	@Param			path	path	string	true	"File path"
//	@Success		204		"Resolved"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/review/{path} [delete]
func (h *Handler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.ResolveReview(r.Context(), path); err != nil {
		writeServiceError(w, "resolve review", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
