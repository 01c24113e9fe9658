package audit

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keystone-api/keystone/internal/shared"
)

// Handler exposes the audit log query surface.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the audit handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes attaches audit routes. The guards are permission middleware
// supplied by the caller; audit itself stays below the authorization layer.
func (h *Handler) MountRoutes(r chi.Router, readGuard, sweepGuard func(http.Handler) http.Handler) {
	r.With(readGuard).Get("/", h.list)
	r.With(readGuard).Get("/export", h.export)
	r.With(readGuard).Get("/stats", h.stats)
	r.With(sweepGuard).Post("/sweep", h.sweep)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	result, err := h.service.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list audit events", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not list audit events")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"logs": result.Rows,
		"paging": map[string]any{
			"page":     result.Paging.Page,
			"pageSize": result.Paging.PageSize,
			"hasNext":  result.Paging.HasNext,
			"prevPage": result.Paging.PrevPage,
			"nextPage": result.Paging.NextPage,
		},
	})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	rows, err := h.service.Export(r.Context(), f)
	if err != nil {
		h.logger.Error("export audit events", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not export audit events")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=audit-%s.csv", time.Now().UTC().Format("20060102-150405")))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "at", "level", "action", "entity", "entityId", "actorId", "actorIp", "message"})
	for _, rec := range rows {
		_ = cw.Write([]string{
			strconv.FormatInt(rec.ID, 10),
			rec.At.UTC().Format(time.RFC3339),
			string(rec.Level),
			rec.Action,
			rec.Entity,
			rec.EntityID,
			rec.ActorID,
			rec.ActorIP,
			rec.Message,
		})
	}
	cw.Flush()
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	counts, err := h.service.Stats(r.Context(), days)
	if err != nil {
		h.logger.Error("audit stats", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not compute audit stats")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"byLevel": counts})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Sweep(r.Context())
	if err != nil {
		h.logger.Error("audit sweep", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "sweep failed")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"cutoff":  report.Cutoff.Format(time.RFC3339),
		"deleted": report.Deleted,
	})
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	f := Filters{
		ActorID: q.Get("actorId"),
		Entity:  q.Get("entity"),
		Action:  q.Get("action"),
		Level:   q.Get("level"),
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Filters{}, fmt.Errorf("invalid page %q", v)
		}
		f.Page = n
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Filters{}, fmt.Errorf("invalid pageSize %q", v)
		}
		f.PageSize = n
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid from timestamp %q", v)
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid to timestamp %q", v)
		}
		f.To = t
	}
	return f, nil
}
