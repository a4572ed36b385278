package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Strob0t/QueryForge/internal/domain/fragment"
	"github.com/Strob0t/QueryForge/internal/mpp"
)

// Plan fragments can carry inline relations, so allow a few MB.
const maxRequestBodySize = 4 << 20

// Handlers holds the dispatch API endpoints.
type Handlers struct {
	dispatch *mpp.DispatchHandler
	manager  *mpp.Manager
	log      *slog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(dispatch *mpp.DispatchHandler, manager *mpp.Manager, log *slog.Logger) *Handlers {
	return &Handlers{dispatch: dispatch, manager: manager, log: log}
}

// Dispatch accepts one plan fragment for execution. Dispatch failures
// are carried inside the response body, not as HTTP errors, so the
// caller can always decode the same shape.
func (h *Handlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[fragment.DispatchRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	resp := h.dispatch.Dispatch(r.Context(), &req)
	writeJSON(w, http.StatusOK, resp)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type cancelResponse struct {
	Cancelled int `json:"cancelled"`
}

// CancelQuery cancels every task of the query named in the URL.
func (h *Handlers) CancelQuery(w http.ResponseWriter, r *http.Request) {
	startTs, err := strconv.ParseUint(urlParam(r, "startTs"), 10, 64)
	if err != nil || startTs == 0 {
		writeError(w, http.StatusBadRequest, "invalid query start timestamp")
		return
	}

	reason := "query cancelled by client request"
	if r.ContentLength > 0 {
		req, ok := readJSON[cancelRequest](w, r, maxRequestBodySize)
		if !ok {
			return
		}
		if req.Reason != "" {
			reason = req.Reason
		}
	}

	n := h.manager.CancelQuery(r.Context(), startTs, reason)
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: n})
}

// ListTasks returns a snapshot of every task registered on this node.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Tasks())
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
