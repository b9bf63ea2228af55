package http

import (
	"net/http"
	"strconv"

	"github.com/openrelief/responder/internal/port/archive"
	"github.com/openrelief/responder/internal/service"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Handlers bundles the services behind the REST surface. Archive may be nil
// when no database is configured; the records endpoints then return 503.
type Handlers struct {
	Agent   *service.Agent
	Monitor *service.Monitor
	Archive archive.Store
}

type triggerResponse struct {
	DisasterID string `json:"disaster_id"`
	WorkflowID string `json:"workflow_id"`
}

// Trigger starts an asynchronous workflow for a disaster id.
func (h *Handlers) Trigger(w http.ResponseWriter, r *http.Request) {
	disasterID := urlParam(r, "id")

	workflowID, err := h.Agent.Trigger(r.Context(), disasterID)
	if err != nil {
		writeDomainError(w, err, "disaster not found")
		return
	}

	writeJSON(w, http.StatusAccepted, triggerResponse{
		DisasterID: disasterID,
		WorkflowID: workflowID,
	})
}

// ProcessEvent runs a workflow synchronously for an event supplied in the
// request body and returns the finished response.
func (h *Handlers) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		return
	}

	resp, err := h.Agent.ProcessRawEvent(r.Context(), raw)
	if err != nil {
		writeDomainError(w, err, "disaster not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type batchRequest struct {
	DisasterIDs []string `json:"disaster_ids"`
}

// ProcessBatch runs workflows for several disaster ids concurrently and
// returns the responses ranked by alert priority.
func (h *Handlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[batchRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if len(req.DisasterIDs) == 0 {
		writeError(w, http.StatusBadRequest, "disaster_ids must not be empty")
		return
	}

	responses, err := h.Agent.HandleConcurrentDisasters(r.Context(), req.DisasterIDs)
	if err != nil {
		writeDomainError(w, err, "disaster not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}

// Status returns the current workflow state for a disaster id, falling back
// to the archive for ids that have been swept from the registry.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Agent.Status(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no workflow for this disaster")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel stops an active workflow.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[cancelRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}

	if err := h.Agent.Cancel(urlParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err, "no active workflow for this disaster")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// Active lists disaster ids with non-terminal workflows.
func (h *Handlers) Active(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"disaster_ids": h.Agent.ActiveDisasters(),
	})
}

// Monitoring returns aggregate workflow statistics.
func (h *Handlers) Monitoring(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Monitor.Snapshot())
}

// History returns the recorded stage transitions for a disaster id.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	disasterID := urlParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"disaster_id": disasterID,
		"history":     h.Monitor.History(disasterID),
	})
}

// Records lists archived workflow records, newest first.
func (h *Handlers) Records(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.Archive.ListRecords(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err, "no records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// ServiceStatus reports which capabilities are currently available.
func (h *Handlers) ServiceStatus(w http.ResponseWriter, r *http.Request) {
	report := h.Agent.ServiceStatus(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
