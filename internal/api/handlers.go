package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/catalog"
	"github.com/zoravur/materialize-live/internal/frame"
	"github.com/zoravur/materialize-live/internal/protocol"
	"github.com/zoravur/materialize-live/internal/reactive"
)

// Catalog lists relations and probes a datasource.
type Catalog interface {
	Names(ctx context.Context) ([]string, error)
	Relations(ctx context.Context) ([]catalog.Relation, error)
	Ping(ctx context.Context) error
	Close() error
}

// Handler holds shared resources injected from app.Server.
type Handler struct {
	Gateway *reactive.Gateway
	// Datasource resolves the uid in the request path.
	Datasource func(uid string) (*reactive.Datasource, bool)
	// OpenCatalog opens a short-lived catalog reader for ds.
	OpenCatalog func(ds reactive.Datasource) (Catalog, error)
}

func (h *Handler) datasource(r *http.Request) (*reactive.Datasource, error) {
	uid := chi.URLParam(r, "uid")
	ds, ok := h.Datasource(uid)
	if !ok {
		return nil, apperr.Newf(apperr.MissingDatasource, "unknown datasource %q", uid)
	}
	return ds, nil
}

type queryRequest struct {
	Queries []reactive.Query `json:"queries"`
}

type queryResult struct {
	RefID  string              `json:"refId"`
	Frames []*frame.Frame      `json:"frames,omitempty"`
	Error  *protocol.ErrorBody `json:"error,omitempty"`
}

// POST /api/ds/{uid}/query
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ds, err := h.datasource(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Wrap(apperr.InvalidTarget, "invalid JSON body", err))
		return
	}

	results, err := h.Gateway.QueryData(r.Context(), ds, req.Queries)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]queryResult, len(results))
	for i, res := range results {
		out[i].RefID = res.RefID
		if res.Err != nil {
			out[i].Error = protocol.NewErrorBody(res.Err)
			continue
		}
		out[i].Frames = []*frame.Frame{res.Frame}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})

	for _, res := range results {
		if res.Frame != nil {
			res.Frame.Release()
		}
	}
}

// GET /api/ds/{uid}/relations[?detail=true]
func (h *Handler) handleRelations(w http.ResponseWriter, r *http.Request) {
	ds, err := h.datasource(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cat, err := h.OpenCatalog(*ds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cat.Close()

	if r.URL.Query().Get("detail") == "true" {
		rels, err := cat.Relations(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rels)
		return
	}

	names, err := cat.Names(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

type healthResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GET /api/ds/{uid}/health answers 200 whatever the outcome.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ds, err := h.datasource(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cat, err := h.OpenCatalog(*ds)
	if err != nil {
		writeJSON(w, http.StatusOK, healthResult{Status: "error", Message: err.Error()})
		return
	}
	defer cat.Close()

	if err := cat.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, healthResult{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResult{Status: "ok", Message: "Connection successful"})
}

// GET /api/streams
func (h *Handler) handleStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Gateway.Streams())
}
