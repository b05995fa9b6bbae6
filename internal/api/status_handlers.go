package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

const (
	defaultStatusLimit = 100
	maxStatusLimit     = 1000
)

// StatusReader returns the status records persisted for a run.
type StatusReader interface {
	Statuses(runID string) []crawler.StatusRecord
}

// StatusHandler exposes read-only run status endpoints.
type StatusHandler struct {
	reader StatusReader
	logger *zap.Logger
}

// NewStatusHandler wires the reader and logger.
func NewStatusHandler(reader StatusReader, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{reader: reader, logger: logger}
}

// ListStatuses handles GET /v1/runs/{run_id}/statuses?status=&limit=&offset=.
// It returns {"run_id": ..., "total": n, "statuses": [...]} on success, 400
// for invalid filters, 404 for unknown runs, or 503 when no reader is wired.
func (h *StatusHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return
	}
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultStatusLimit, maxStatusLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filter crawler.URLStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		filter = crawler.URLStatus(strings.ToUpper(raw))
		if !filter.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	all := h.reader.Statuses(runID)
	if len(all) == 0 {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	matched := all
	if filter != "" {
		matched = make([]crawler.StatusRecord, 0, len(all))
		for _, rec := range all {
			if rec.Status == filter {
				matched = append(matched, rec)
			}
		}
	}
	total := len(matched)
	lo := min(offset, total)
	hi := min(lo+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"total":    total,
		"statuses": matched[lo:hi],
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
