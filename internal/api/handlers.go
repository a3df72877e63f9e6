package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/needservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *needservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *needservice.Service) *Handler {
	return &Handler{svc: svc}
}

// writeServiceError maps domain errors onto status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, needservice.ErrNoBuild):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ListNeeds handles GET /api/needs.
//
//	@Summary		List needs matching a filter expression
//	@Tags			needs
//	@Produce		json
//	@Param			filter	query		string	false	"Filter expression, e.g. type == 'req'"
//	@Param			sort	query		string	false	"Sort field"
//	@Success		200		{object}	NeedListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/needs [get]
func (h *Handler) ListNeeds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	needs, err := h.svc.Filter(r.Context(), q.Get("filter"), q.Get("sort"))
	if err != nil {
		if errors.Is(err, needservice.ErrNoBuild) {
			writeServiceError(w, "list needs", err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, NeedListResponse{Needs: needs, Total: len(needs)})
}

// GetNeed handles GET /api/needs/{id}.
//
//	@Summary		Get a single need by id
//	@Tags			needs
//	@Produce		json
//	@Param			id	path		string	true	"Need id"
//	@Success		200	{object}	map[string]any
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/needs/{id} [get]
func (h *Handler) GetNeed(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get need", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Tree handles GET /api/needs/{id}/tree.
//
//	@Summary		Needs reachable from one need
//	@Tags			needs
//	@Produce		json
//	@Param			id			path		string	true	"Root need id"
//	@Param			direction	query		string	false	"Traversal direction"	Enums(outgoing, incoming, both)
//	@Param			depth		query		int		false	"Maximum depth"
//	@Param			links		query		string	false	"Comma separated link categories"
//	@Success		200			{object}	TreeResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/needs/{id}/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dir, err := links.ParseDirection(q.Get("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tq := needservice.TreeQuery{Direction: dir}
	if raw := q.Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "depth must be a non-negative integer")
			return
		}
		tq.MaxDepth = &d
	}
	if raw := q.Get("links"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				tq.Categories = append(tq.Categories, c)
			}
		}
	}
	id := chi.URLParam(r, "id")
	entries, err := h.svc.Tree(r.Context(), id, tq)
	if err != nil {
		writeServiceError(w, "tree", err)
		return
	}
	writeJSON(w, http.StatusOK, TreeResponse{Root: id, Needs: entries})
}

// Backlinks handles GET /api/needs/{id}/backlinks.
//
//	@Summary		Needs linking to one need
//	@Tags			needs
//	@Produce		json
//	@Param			id			path		string	true	"Need id"
//	@Param			category	query		string	false	"Link category"
//	@Success		200			{object}	BacklinksResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/needs/{id}/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cat := r.URL.Query().Get("category")
	bl, err := h.svc.Backlinks(r.Context(), id, cat)
	if err != nil {
		writeServiceError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{ID: id, Category: cat, Backlinks: bl})
}

// NeedsJSON handles GET /api/needs.json.
//
//	@Summary		The needs.json export of the current build
//	@Tags			export
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Success		304	"Not modified"
//	@Security		BearerAuth
//	@Router			/needs.json [get]
func (h *Handler) NeedsJSON(w http.ResponseWriter, r *http.Request) {
	raw, sum, err := h.svc.Document(r.Context())
	if err != nil {
		writeServiceError(w, "needs.json", err)
		return
	}
	etag := `"` + sum + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match == etag || strings.Trim(match, `"`) == sum {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across needs
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
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeServiceError(w, "search", err)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the needs graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	nodes, edges, err := h.svc.Graph(r.Context())
	if err != nil {
		writeServiceError(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, GraphResponse{Nodes: nodes, Links: edges})
}

// Select handles GET /api/select.
//
//	@Summary		Evaluate a JSONPath selector over needs.json
//	@Tags			export
//	@Produce		json
//	@Param			q	query		string	true	"JSONPath selector"
//	@Success		200	{object}	SelectResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/select [get]
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	values, err := h.svc.Select(r.Context(), q)
	if err != nil {
		if errors.Is(err, needservice.ErrNoBuild) {
			writeServiceError(w, "select", err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if values == nil {
		values = []any{}
	}
	writeJSON(w, http.StatusOK, SelectResponse{Values: values})
}

// BuildInfo handles GET /api/build.
//
//	@Summary		Describe the current build
//	@Tags			build
//	@Produce		json
//	@Success		200	{object}	BuildInfo
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/build [get]
func (h *Handler) BuildInfo(w http.ResponseWriter, _ *http.Request) {
	info, err := h.svc.Info()
	if err != nil {
		writeServiceError(w, "build info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Rebuild handles POST /api/build.
//
//	@Summary		Rebuild the needs graph
//	@Tags			build
//	@Produce		json
//	@Success		200	{object}	BuildInfo
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/build [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Rebuild(r.Context()); err != nil && !errors.Is(err, build.ErrWarnings) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.BuildInfo(w, r)
}
