package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/dispatch"
	"github.com/sells-group/rankgrid/internal/export"
	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/report"
)

func (h *handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) createProfile(w http.ResponseWriter, r *http.Request) {
	var in report.ProfileInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.svc.CreateProfile(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProfile(r.Context(), chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) listProfileReports(w http.ResponseWriter, r *http.Request) {
	h.writeReports(w, r, chi.URLParam(r, "profileID"))
}

func (h *handlers) listReports(w http.ResponseWriter, r *http.Request) {
	h.writeReports(w, r, r.URL.Query().Get("profile_id"))
}

func (h *handlers) writeReports(w http.ResponseWriter, r *http.Request, profileID string) {
	reports, err := h.svc.ListReports(r.Context(), profileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *handlers) createReport(w http.ResponseWriter, r *http.Request) {
	var in report.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rep, err := h.svc.CreateReport(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *handlers) getReport(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) updateReport(w http.ResponseWriter, r *http.Request) {
	var u model.ReportUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	rep, err := h.svc.UpdateReport(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) deleteReport(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.DeleteReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "report not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// triggerRunResponse is the body of POST /reports/{id}/runs. Each attempt of
// the job creates its own run, so the response carries the job handle; the
// runs appear under RunsURL.
type triggerRunResponse struct {
	JobID       string          `json:"job_id"`
	ReportID    string          `json:"report_id"`
	Status      model.RunStatus `json:"status"`
	PointsTotal int             `json:"points_total"`
	RunsURL     string          `json:"runs_url"`
}

func (h *handlers) triggerRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.TriggerRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	runsURL := "/reports/" + run.ReportID + "/runs"
	w.Header().Set("Location", runsURL)
	writeJSON(w, http.StatusAccepted, triggerRunResponse{
		JobID:       dispatch.JobID(run.ReportID),
		ReportID:    run.ReportID,
		Status:      run.Status,
		PointsTotal: run.PointsTotal,
		RunsURL:     runsURL,
	})
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := h.svc.ListRuns(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handlers) getRunResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.GetRunResults(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("keyword"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// getRunGeoJSON serves a run's samples as a GeoJSON feature collection.
func (h *handlers) getRunGeoJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := h.svc.GetRun(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	detail, err := h.svc.GetReport(ctx, run.ReportID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := h.svc.GetRunResults(ctx, run.ID, r.URL.Query().Get("keyword"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if err := export.WriteGeoJSON(w, detail.Report, results); err != nil {
		zap.L().Debug("api: encode geojson", zap.Error(err))
	}
}
