package handler

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/logistica/internal/api/request"
	"github.com/edvin/logistica/internal/api/response"
	"github.com/edvin/logistica/internal/model"
)

type ScheduleStore interface {
	List(ctx context.Context) ([]model.BackupSchedule, error)
	Create(ctx context.Context, sc *model.BackupSchedule) error
	SetEnabled(ctx context.Context, id int64, enabled bool) (*model.BackupSchedule, error)
}

// Schedule manages the passive backup_schedules rows read by the external
// scheduler.
type Schedule struct {
	svc       ScheduleStore
	databases []string
}

func NewSchedule(svc ScheduleStore, databases []string) *Schedule {
	return &Schedule{svc: svc, databases: databases}
}

func (h *Schedule) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if schedules == nil {
		schedules = []model.BackupSchedule{}
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": schedules})
}

func (h *Schedule) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateSchedule
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, d := range req.Databases {
		if !slices.Contains(h.databases, d) {
			response.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown database %q", d))
			return
		}
	}

	sc := &model.BackupSchedule{
		Name:           req.Name,
		CronExpression: req.CronExpression,
		BackupType:     req.BackupType,
		Databases:      model.DatabaseList(req.Databases),
		RetentionDays:  req.RetentionDays,
		Enabled:        true,
	}
	if sc.RetentionDays == 0 {
		sc.RetentionDays = model.RetentionDays(req.BackupType)
	}
	if req.Enabled != nil {
		sc.Enabled = *req.Enabled
	}

	if err := h.svc.Create(r.Context(), sc); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, sc)
}

func (h *Schedule) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req request.SetScheduleEnabled
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sc, err := h.svc.SetEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, sc)
}
