package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"forge/internal/middleware"
	"forge/internal/progress"
)

// JobStream pushes job state updates as server-sent events until the job goes
// terminal. The stream is best effort; the job resource stays the
// authoritative state for clients that poll instead.
func (a *App) JobStream(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromContext(r.Context())
	jobID := chi.URLParam(r, "job_id")

	// Subscribe before reading the job row. Terminal state is written to the
	// row before it is published, so anything that lands between the read and
	// a later subscription would be lost for good; this order means a missed
	// update is always visible in the snapshot. Duplicates are harmless.
	updates, cancel := a.Orchestrator.Subscribe(jobID)
	defer cancel()

	job, err := a.loadJobForTenant(r, jobID, tenantID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := progress.Update{
		JobID:     job.ID,
		Status:    job.Status,
		Percent:   job.Progress,
		Timestamp: time.Now().UTC(),
	}
	writeEvent(w, flusher, snapshot)
	if job.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			writeEvent(w, flusher, update)
			if update.Status.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, update progress.Update) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
