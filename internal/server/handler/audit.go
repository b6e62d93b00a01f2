package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// AuditHandler serves the operator view of the audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger.With(slog.String("handler", "audit"))}
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns audit entries, newest first. ?actor= keeps one caller's
// entries.
// GET /api/audit?actor=0x...&limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		entries []domain.AuditEntry
		err     error
	)
	if v := r.URL.Query().Get("actor"); v != "" {
		actor, perr := parseAddress("actor", v)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		entries, err = h.audit.ListByActor(r.Context(), actor, opts)
	} else {
		entries, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	out := make([]auditView, len(entries))
	for i, e := range entries {
		out[i] = auditView{
			ID:        e.ID,
			Event:     e.Event,
			Actor:     addressString(e.Actor),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
