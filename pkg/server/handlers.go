package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/pairsort/pkg/borda"
	"github.com/orneryd/pairsort/pkg/codec"
	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/session"
	"github.com/orneryd/pairsort/pkg/storage"
)

// =============================================================================
// Request types
// =============================================================================

type createListRequest struct {
	Name     string   `json:"name"`
	Items    []string `json:"items"`
	Strategy string   `json:"strategy,omitempty"`
}

type itemsRequest struct {
	Items []string `json:"items"`
}

type stateRequest struct {
	State string `json:"state"`
}

type voteRequest struct {
	Rankings [][]string `json:"rankings"`
	Method   string     `json:"method,omitempty"`
	K        float64    `json:"k,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrContradiction),
		errors.Is(err, session.ErrNothingToUndo),
		errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed), errors.Is(err, storage.ErrStorageClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, session.ErrTooManyItems),
		errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, storage.ErrInvalidData),
		errors.Is(err, codec.ErrUnknownFormat),
		errors.Is(err, codec.ErrMalformed),
		errors.Is(err, codec.ErrCyclicGraph),
		errors.Is(err, order.ErrUnknownStrategy),
		errors.Is(err, borda.ErrNoRankings),
		errors.Is(err, borda.ErrDuplicateItem),
		errors.Is(err, borda.ErrBlankItem),
		errors.Is(err, borda.ErrUnknownMethod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = ErrInternalError.Error()
	}
	s.writeError(w, code, msg, err)
}

// =============================================================================
// Health & Status
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := s.svc.Storage()
	lists, err := store.ListCount(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	decisions, err := store.DecisionCount(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	stats := s.Stats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "running",
		"server": map[string]interface{}{
			"uptime_seconds":  stats.Uptime.Seconds(),
			"requests":        stats.RequestCount,
			"errors":          stats.ErrorCount,
			"active_requests": stats.ActiveRequests,
		},
		"storage": map[string]interface{}{
			"lists":     lists,
			"decisions": decisions,
		},
		"cache": s.svc.CacheStats(),
	})
}

// =============================================================================
// Lists
// =============================================================================

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req createListRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	list, err := s.svc.CreateList(r.Context(), req.Name, req.Items, req.Strategy)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Location", "/lists/"+list.ID)
	s.writeJSON(w, http.StatusCreated, list)
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.svc.Lists(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if lists == nil {
		lists = []*storage.List{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"lists": lists})
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.GetList(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteList(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var req itemsRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	list, err := s.svc.AddItems(r.Context(), r.PathValue("id"), req.Items)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	prune, err := boolQuery(r, "prune")
	if err != nil {
		s.fail(w, err)
		return
	}
	list, err := s.svc.RemoveItems(r.Context(), r.PathValue("id"), []string{r.PathValue("item")}, prune)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleClearItem(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.ClearItemOrder(r.Context(), r.PathValue("id"), r.PathValue("item"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// =============================================================================
// Sorting
// =============================================================================

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	etag := strconv.Quote(st.ETag)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	log, err := s.svc.Decisions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if log == nil {
		log = []order.Decision{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": log})
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var d order.Decision
	if err := s.readJSON(w, r, &d); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.svc.Decide(r.Context(), r.PathValue("id"), d)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Undo(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// =============================================================================
// State transfer
// =============================================================================

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.Graph(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if g == nil {
		g = order.Graph{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"graph": g, "edges": g.EdgeCount()})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	format, err := codec.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, err)
		return
	}
	state, err := s.svc.State(r.Context(), r.PathValue("id"), format)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stateRequest{State: state})
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	st, err := s.svc.LoadState(r.Context(), r.PathValue("id"), req.State)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := codec.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, err)
		return
	}
	exp, err := s.svc.Export(r.Context(), r.PathValue("id"), format)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var exp session.Export
	if err := s.readJSON(w, r, &exp); err != nil {
		s.fail(w, err)
		return
	}
	list, err := s.svc.Import(r.Context(), &exp)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Location", "/lists/"+list.ID)
	s.writeJSON(w, http.StatusCreated, list)
}

// =============================================================================
// Voting & Admin
// =============================================================================

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	method, err := borda.ParseMethod(req.Method)
	if err != nil {
		s.fail(w, err)
		return
	}
	results, err := borda.AggregateWith(req.Rankings, borda.Options{Method: method, RRFK: req.K})
	if err != nil {
		s.fail(w, err)
		return
	}
	if results == nil {
		results = []borda.Result{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"method":  method,
		"ranking": borda.Items(results),
		"results": results,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Snapshot(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot": "ok"})
}

// =============================================================================
// Helpers
// =============================================================================

func boolQuery(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Join(ErrBadRequest, err)
	}
	return b, nil
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
