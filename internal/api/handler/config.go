package handler

import (
	"context"
	"net/http"

	"github.com/edvin/logistica/internal/api/response"
	"github.com/edvin/logistica/internal/model"
)

type ConfigLister interface {
	List(ctx context.Context) ([]model.ConfigEntry, error)
}

type Config struct {
	svc ConfigLister
}

func NewConfig(svc ConfigLister) *Config {
	return &Config{svc: svc}
}

// List returns backup_config rows grouped by category.
func (h *Config) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	byCategory := map[string][]model.ConfigEntry{}
	for _, e := range entries {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"categories": byCategory})
}
