package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/billing-reports/internal/logger"
	"github.com/dvloznov/billing-reports/internal/period"
	"github.com/dvloznov/billing-reports/internal/reports"
)

// Trigger is the part of the report runner the HTTP surface needs.
type Trigger interface {
	Run(ctx context.Context, m period.Month) error
	Status(ctx context.Context, m period.Month) ([]reports.TableStatus, error)
}

// RunHandler triggers report runs over HTTP.
type RunHandler struct {
	runner Trigger
	log    zerolog.Logger
}

// NewRunHandler creates a new run handler.
func NewRunHandler(runner Trigger, log zerolog.Logger) *RunHandler {
	return &RunHandler{runner: runner, log: log}
}

// Run handles POST /run. The run executes synchronously; the scheduler's
// request deadline is the only timeout. An optional month=YYYYMM query
// parameter overrides the default previous-calendar-month period.
func (h *RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	m, ok := h.resolveMonth(w, r)
	if !ok {
		return
	}

	log := h.log.With().
		Str("request_id", RequestIDFromContext(r.Context())).
		Str("month", m.Key()).
		Logger()
	ctx := logger.WithContext(r.Context(), log)

	log.Info().Msg("Report run requested")
	if err := h.runner.Run(ctx, m); err != nil {
		log.Error().Err(err).Msg("Report run failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"month":  m.Key(),
		"status": "completed",
	})
}

// Status handles GET /status.
func (h *RunHandler) Status(w http.ResponseWriter, r *http.Request) {
	m, ok := h.resolveMonth(w, r)
	if !ok {
		return
	}

	statuses, err := h.runner.Status(r.Context(), m)
	if err != nil {
		h.log.Error().Err(err).Str("month", m.Key()).Msg("Status check failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tables := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		tables[s.Table] = s.Exists
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"month":  m.Key(),
		"tables": tables,
	})
}

// Health handles GET /healthz.
func (h *RunHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *RunHandler) resolveMonth(w http.ResponseWriter, r *http.Request) (period.Month, bool) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		return period.Previous(time.Now().UTC()), true
	}
	m, err := period.Parse(raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "month must be YYYYMM")
		return period.Month{}, false
	}
	return m, true
}
