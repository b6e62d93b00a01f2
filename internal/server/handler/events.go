package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// ArchiveLister lists and reads archived event batches.
type ArchiveLister interface {
	ListArchives(ctx context.Context) ([]domain.ArchiveObject, error)
	ReadArchive(ctx context.Context, path string) ([]domain.Event, error)
}

// EventHandler serves the committed event log and its archives.
type EventHandler struct {
	events   domain.EventStore
	archives ArchiveLister
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler. archives may be nil when archiving
// is disabled.
func NewEventHandler(events domain.EventStore, archives ArchiveLister, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, archives: archives, logger: logger.With(slog.String("handler", "events"))}
}

// ListEvents returns committed events, newest first.
// GET /api/events?limit=50&offset=0&since=RFC3339&type=token_bought
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = &since
	}

	events, err := h.events.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	typ := r.URL.Query().Get("type")
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		if typ != "" && string(e.Type) != typ {
			continue
		}
		out = append(out, toEventView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// ListArchives returns the archived event batches, or the events of one batch
// when ?path= is given.
// GET /api/archives
func (h *EventHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "archiving is disabled", Code: "not_found"})
		return
	}

	if path := strings.TrimSpace(r.URL.Query().Get("path")); path != "" {
		events, err := h.archives.ReadArchive(r.Context(), path)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		out := make([]eventView, len(events))
		for i, e := range events {
			out[i] = toEventView(e)
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": path, "events": out})
		return
	}

	infos, err := h.archives.ListArchives(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}
