package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/henryv2be-prog/access-core/internal/access"
	"github.com/henryv2be-prog/access-core/internal/lock"
)

// accessRequest is the body for POST /access/request.
type accessRequest struct {
	RequesterID string `json:"requester_id"`
	DoorID      string `json:"door_id"`
}

// handleAccessRequest runs the access decision flow. The response
// carries the decision either way; only infrastructure failures (lock
// contention timeout, storage errors) produce error statuses.
func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	decision, err := s.access.Request(r.Context(), req.RequesterID, req.DoorID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, decision)
	case errors.Is(err, access.ErrInvalidRequester), errors.Is(err, access.ErrInvalidDoor):
		writeBadRequest(w, err.Error())
	case errors.Is(err, lock.ErrAcquireTimeout):
		writeError(w, http.StatusServiceUnavailable, ErrCodeLockTimeout,
			"door is busy, try again")
	default:
		s.logger.Error("access request failed",
			"door_id", req.DoorID,
			"requester_id", req.RequesterID,
			"error", err,
		)
		writeInternalError(w, "access request failed")
	}
}

// grantRequest is the body for grant create and revoke.
type grantRequest struct {
	RequesterID string `json:"requester_id"`
	DoorID      string `json:"door_id"`
}

// handleCreateGrant records that a requester may open a door. Granting
// an existing pair is idempotent.
func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	if s.grants == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "grant store not configured")
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	grantedBy := ""
	if claims := callerClaims(r); claims != nil {
		grantedBy = claims.Subject
	}

	err := s.grants.Grant(r.Context(), req.RequesterID, req.DoorID, grantedBy)
	switch {
	case err == nil:
		s.logger.Info("access grant created",
			"requester_id", req.RequesterID,
			"door_id", req.DoorID,
			"granted_by", grantedBy,
		)
		writeJSON(w, http.StatusCreated, map[string]any{
			"requester_id": req.RequesterID,
			"door_id":      req.DoorID,
		})
	case errors.Is(err, access.ErrInvalidRequester), errors.Is(err, access.ErrInvalidDoor):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error("creating access grant", "error", err)
		writeInternalError(w, "failed to create grant")
	}
}

// handleRevokeGrant removes a grant.
func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	if s.grants == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "grant store not configured")
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.grants.Revoke(r.Context(), req.RequesterID, req.DoorID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"revoked": map[string]string{
				"requester_id": req.RequesterID,
				"door_id":      req.DoorID,
			},
		})
	case errors.Is(err, access.ErrGrantNotFound):
		writeNotFound(w, "grant not found")
	default:
		s.logger.Error("revoking access grant", "error", err)
		writeInternalError(w, "failed to revoke grant")
	}
}

// handleListGrants returns all grants held by one requester.
func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	if s.grants == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "grant store not configured")
		return
	}

	requesterID := chi.URLParam(r, "requesterID")
	grants, err := s.grants.ListByRequester(r.Context(), requesterID)
	if err != nil {
		s.logger.Error("listing access grants", "requester_id", requesterID, "error", err)
		writeInternalError(w, "failed to list grants")
		return
	}
	if grants == nil {
		grants = []access.Grant{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requester_id": requesterID,
		"grants":       grants,
	})
}
