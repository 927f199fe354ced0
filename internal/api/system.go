package api

import (
	"net/http"
	"strconv"

	"github.com/henryv2be-prog/access-core/internal/audit"
)

// handleLockStats returns the arbiter's current lock counts.
func (s *Server) handleLockStats(w http.ResponseWriter, _ *http.Request) {
	if s.locks == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "lock arbiter not running")
		return
	}
	writeJSON(w, http.StatusOK, s.locks.Stats())
}

// handleListAudit returns recent audit entries, filtered by query
// parameters: action, entity_type, entity_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
