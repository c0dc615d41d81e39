package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	mw "github.com/edvin/logistica/internal/api/middleware"
	"github.com/edvin/logistica/internal/api/request"
	"github.com/edvin/logistica/internal/api/response"
	"github.com/edvin/logistica/internal/core"
	"github.com/edvin/logistica/internal/model"
	"github.com/edvin/logistica/internal/workflow"
)

type BackupController interface {
	Trigger(ctx context.Context, req workflow.TriggerRequest) (*model.BackupJob, error)
	Cancel(ctx context.Context, id int64, actor string) error
	Capacity(ctx context.Context) (core.Admission, error)
}

type JobStore interface {
	GetByID(ctx context.Context, id int64) (*model.BackupJob, error)
	List(ctx context.Context, f core.JobFilter) ([]model.BackupJob, int64, error)
	Delete(ctx context.Context, id int64, actor string) error
	Stats(ctx context.Context) (*model.BackupStats, error)
}

type FileLister interface {
	ListByJob(ctx context.Context, jobID int64) ([]model.BackupFile, error)
}

type ActivityLister interface {
	ListByJob(ctx context.Context, jobID int64) ([]model.ActivityLog, error)
}

type LogLister interface {
	ListByJob(ctx context.Context, jobID int64) ([]model.BackupLog, error)
}

type Backup struct {
	ctrl     BackupController
	jobs     JobStore
	files    FileLister
	activity ActivityLister
	logs     LogLister
}

func NewBackup(ctrl BackupController, jobs JobStore, files FileLister, activity ActivityLister, logs LogLister) *Backup {
	return &Backup{ctrl: ctrl, jobs: jobs, files: files, activity: activity, logs: logs}
}

type triggerResponse struct {
	JobID      int64              `json:"job_id"`
	JobUUID    string             `json:"job_uuid"`
	Status     string             `json:"status"`
	BackupType string             `json:"backup_type"`
	StartTime  time.Time          `json:"start_time"`
	Databases  model.DatabaseList `json:"databases"`
	BackupPath string             `json:"backup_path"`
}

// Trigger admits and starts a backup job. The response is sent as soon as
// the job is running; completion is observed through Get or List.
func (h *Backup) Trigger(w http.ResponseWriter, r *http.Request) {
	var req request.TriggerBackup
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.ctrl.Trigger(r.Context(), workflow.TriggerRequest{
		BackupType:    req.BackupType,
		Databases:     req.Databases,
		TriggeredBy:   mw.Actor(r.Context()),
		TriggerSource: model.TriggerManual,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, triggerResponse{
		JobID:      job.ID,
		JobUUID:    job.UUID,
		Status:     job.Status,
		BackupType: job.Type,
		StartTime:  job.StartTime,
		Databases:  job.Databases,
		BackupPath: job.BackupPath,
	})
}

func (h *Backup) List(w http.ResponseWriter, r *http.Request) {
	f, err := request.ParseJobFilter(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, total, err := h.jobs.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.BackupJob{}
	}
	response.WritePaginated(w, http.StatusOK, jobs, total, f.Limit, f.Offset)
}

func (h *Backup) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

// Delete removes a pending, failed or cancelled job with its file rows.
func (h *Backup) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.jobs.Delete(r.Context(), id, mw.Actor(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"job_id": id, "deleted": true})
}

func (h *Backup) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctrl.Cancel(r.Context(), id, mw.Actor(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": "cancelling"})
}

func (h *Backup) Files(w http.ResponseWriter, r *http.Request) {
	id, ok := h.existingJob(w, r)
	if !ok {
		return
	}
	files, err := h.files.ListByJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if files == nil {
		files = []model.BackupFile{}
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": files})
}

func (h *Backup) Activity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.existingJob(w, r)
	if !ok {
		return
	}
	entries, err := h.activity.ListByJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.ActivityLog{}
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Backup) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.existingJob(w, r)
	if !ok {
		return
	}
	lines, err := h.logs.ListByJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": lines})
}

type statsResponse struct {
	*model.BackupStats
	Admission core.Admission `json:"admission"`
}

// Stats summarises the job table together with the current admission state.
func (h *Backup) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	adm, err := h.ctrl.Capacity(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("admission check failed")
		adm.Allowed = false
	}
	response.WriteJSON(w, http.StatusOK, statsResponse{BackupStats: stats, Admission: adm})
}

func (h *Backup) existingJob(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	if _, err := h.jobs.GetByID(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return 0, false
	}
	return id, true
}
