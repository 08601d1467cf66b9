package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/scrypster/tessera/internal/reconcile"
	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

const (
	maxIngestBytes      = 8 << 20
	defaultSearchLimit  = 10
	defaultHistoryLimit = 50
)

// Engine is the reconciliation surface exposed over HTTP.
// *reconcile.Sentinel satisfies it.
type Engine interface {
	Ingest(ctx context.Context, entities []*types.Entity, source string) (*reconcile.IngestResult, error)
	PendingMerges(ctx context.Context) ([]*types.MergeCandidate, error)
	ApproveMerge(ctx context.Context, id, reason string, preferPrimary bool) (*types.Entity, error)
	RejectMerge(ctx context.Context, id string) error
	SuggestMerges(ctx context.Context, threshold float64) ([]types.DuplicatePair, error)
	Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error)
	BackendName() string
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ApproveRequest is the body of POST /api/merges/{id}/approve.
// PreferPrimary defaults to true when omitted.
type ApproveRequest struct {
	Reason        string `json:"reason"`
	PreferPrimary *bool  `json:"prefer_primary"`
}

// IngestResponse summarises one ingested batch.
type IngestResponse struct {
	Ingested   int                     `json:"ingested"`
	EntityIDs  []string                `json:"entity_ids"`
	Candidates []*types.MergeCandidate `json:"candidates"`
	Merges     []*types.MergeEvent     `json:"merges"`
	Suppressed int                     `json:"suppressed"`
}

// Handlers serves the reconciliation API.
type Handlers struct {
	engine Engine
	log    storage.MergeLog // optional
	events *EventHub        // optional
}

// NewHandlers creates the API handlers. mergeLog may be nil, in which case
// the history endpoint reports 404. When events is set, queued and
// rejected candidates are published to it.
func NewHandlers(engine Engine, mergeLog storage.MergeLog, events *EventHub) *Handlers {
	return &Handlers{engine: engine, log: mergeLog, events: events}
}

// Register mounts the API routes on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/merges/pending", h.PendingMerges)
	mux.HandleFunc("POST /api/merges/{id}/approve", h.ApproveMerge)
	mux.HandleFunc("POST /api/merges/{id}/reject", h.RejectMerge)
	mux.HandleFunc("GET /api/merges/history", h.MergeHistory)
	mux.HandleFunc("GET /api/search", h.Search)
	mux.HandleFunc("GET /api/suggest", h.SuggestMerges)
	mux.HandleFunc("POST /api/ingest", h.Ingest)
	mux.HandleFunc("GET /api/backend", h.Backend)
	mux.HandleFunc("GET /healthz", h.Health)
}

// PendingMerges handles GET /api/merges/pending.
func (h *Handlers) PendingMerges(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.PendingMerges(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if pending == nil {
		pending = []*types.MergeCandidate{}
	}
	respondJSON(w, http.StatusOK, pending)
}

// ApproveMerge handles POST /api/merges/{id}/approve.
func (h *Handlers) ApproveMerge(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	preferPrimary := true
	if req.PreferPrimary != nil {
		preferPrimary = *req.PreferPrimary
	}

	merged, err := h.engine.ApproveMerge(r.Context(), r.PathValue("id"), req.Reason, preferPrimary)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, merged)
}

// RejectMerge handles POST /api/merges/{id}/reject.
func (h *Handlers) RejectMerge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.RejectMerge(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	if h.events != nil {
		h.events.CandidateRejected(id)
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(types.CandidateRejected)})
}

// MergeHistory handles GET /api/merges/history?limit=.
func (h *Handlers) MergeHistory(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		respondError(w, fmt.Errorf("merge history: %w", storage.ErrNotFound))
		return
	}
	limit, err := intParam(r, "limit", defaultHistoryLimit)
	if err != nil {
		respondError(w, err)
		return
	}
	events, err := h.log.ListMerges(r.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if events == nil {
		events = []*types.MergeEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

// Search handles GET /api/search?q=&limit=.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondError(w, fmt.Errorf("%w: q is required", storage.ErrInvalidInput))
		return
	}
	limit, err := intParam(r, "limit", defaultSearchLimit)
	if err != nil {
		respondError(w, err)
		return
	}
	results, err := h.engine.Search(r.Context(), q, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if results == nil {
		results = []types.SearchResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

// SuggestMerges handles GET /api/suggest?threshold=.
func (h *Handlers) SuggestMerges(w http.ResponseWriter, r *http.Request) {
	threshold := reconcile.DefaultSimilarityThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, fmt.Errorf("%w: threshold %q", storage.ErrInvalidInput, raw))
			return
		}
		threshold = v
	}
	pairs, err := h.engine.SuggestMerges(r.Context(), threshold)
	if err != nil {
		respondError(w, err)
		return
	}
	if pairs == nil {
		pairs = []types.DuplicatePair{}
	}
	respondJSON(w, http.StatusOK, pairs)
}

// Ingest handles POST /api/ingest. The body is a JSON array of entities or
// a batch object; ?source= overrides the batch source.
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err))
		return
	}
	batch, err := types.ParseBatch(body)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err))
		return
	}
	if src := r.URL.Query().Get("source"); src != "" {
		batch.Source = src
	}

	res, err := h.engine.Ingest(r.Context(), batch.Entities, batch.Source)
	if err != nil {
		respondError(w, err)
		return
	}
	if h.events != nil {
		h.events.CandidatesQueued(res.Candidates)
	}
	respondJSON(w, http.StatusOK, newIngestResponse(res))
}

// Backend handles GET /api/backend.
func (h *Handlers) Backend(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"backend": h.engine.BackendName()})
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func newIngestResponse(res *reconcile.IngestResult) IngestResponse {
	out := IngestResponse{
		Ingested:   len(res.Ingested),
		EntityIDs:  make([]string, 0, len(res.Ingested)),
		Candidates: res.Candidates,
		Merges:     res.Merges,
		Suppressed: res.Suppressed,
	}
	for _, e := range res.Ingested {
		out.EntityIDs = append(out.EntityIDs, e.ID)
	}
	if out.Candidates == nil {
		out.Candidates = []*types.MergeCandidate{}
	}
	if out.Merges == nil {
		out.Merges = []*types.MergeEvent{}
	}
	return out
}

// decodeOptionalBody decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", storage.ErrInvalidInput, name)
	}
	return v, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrInvalidMerge):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

// respondError writes err with the status code statusFor assigns it.
func respondError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("server: %v", err)
	}
	respondJSON(w, code, ErrorResponse{Error: err.Error(), Code: http.StatusText(code)})
}
