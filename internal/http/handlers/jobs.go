package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saathi/saathi-core/internal/repository"
)

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	record, err := api.archive.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, jobView(record))
}

func (api *API) DeadJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	records, err := api.archive.ListDead(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list dead jobs")
		return
	}

	views := make([]map[string]any, 0, len(records))
	for i := range records {
		views = append(views, jobView(&records[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views, "count": len(views)})
}

func jobView(record *repository.ArchivedJob) map[string]any {
	view := map[string]any{
		"job_id":      record.ID,
		"sender_id":   record.SenderID,
		"kind":        record.Kind,
		"state":       record.State,
		"attempts":    record.Attempts,
		"received_at": record.ReceivedAt,
		"archived_at": record.ArchivedAt,
	}
	if strings.TrimSpace(record.LastError) != "" {
		view["error"] = map[string]any{
			"code":    "processing_error",
			"message": record.LastError,
		}
	}
	return view
}
