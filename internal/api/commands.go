package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/henryv2be-prog/access-core/internal/audit"
	"github.com/henryv2be-prog/access-core/internal/outbox"
	"github.com/henryv2be-prog/access-core/internal/webhook"
)

// pollCommand is the wire shape door controllers consume. The action
// travels under the "command" key for firmware compatibility.
type pollCommand struct {
	ID        string `json:"id"`
	Command   string `json:"command"`
	CreatedAt string `json:"created_at"`
}

// pollResponse is the device polling envelope.
type pollResponse struct {
	Success  bool          `json:"success"`
	Commands []pollCommand `json:"commands"`
}

// handlePollCommands hands a door controller everything queued for it
// since the last poll, oldest first. Returned commands are marked
// executed in the same transaction that selects them, so a repeated
// poll never sees them again.
func (s *Server) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	doorID := chi.URLParam(r, "doorID")
	if doorID == "" {
		writeBadRequest(w, "door ID is required")
		return
	}

	claimed, err := s.commands.ClaimPending(r.Context(), doorID)
	if err != nil {
		s.logger.Error("claiming pending commands", "door_id", doorID, "error", err)
		writeInternalError(w, "failed to fetch commands")
		return
	}

	resp := pollResponse{
		Success:  true,
		Commands: make([]pollCommand, 0, len(claimed)),
	}
	for i := range claimed {
		resp.Commands = append(resp.Commands, pollCommand{
			ID:        claimed[i].ID,
			Command:   claimed[i].Action,
			CreatedAt: claimed[i].CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	if len(claimed) > 0 {
		s.logger.Info("commands claimed by controller",
			"door_id", doorID,
			"count", len(claimed),
		)
		s.recordClaim(r, doorID, claimed)
		if s.dispatcher != nil {
			s.dispatcher.Trigger(r.Context(), webhook.EventCommandExecuted, map[string]any{
				"door_id":     doorID,
				"command_ids": commandIDs(claimed),
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListDoorCommands returns the recent command history for one
// door, newest first, regardless of status. Operator-facing: the device
// poll endpoint above is the only one that mutates command state.
func (s *Server) handleListDoorCommands(w http.ResponseWriter, r *http.Request) {
	doorID := chi.URLParam(r, "doorID")
	if doorID == "" {
		writeBadRequest(w, "door ID is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	commands, err := s.commands.ListByDoor(r.Context(), doorID, limit)
	if err != nil {
		s.logger.Error("listing door commands", "door_id", doorID, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	if commands == nil {
		commands = []outbox.Command{}
	}

	pending, err := s.commands.CountPending(r.Context(), doorID)
	if err != nil {
		s.logger.Error("counting pending commands", "door_id", doorID, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"door_id":  doorID,
		"pending":  pending,
		"commands": commands,
	})
}

// recordClaim writes an audit entry for a successful poll that drained
// commands. Best-effort.
func (s *Server) recordClaim(r *http.Request, doorID string, claimed []outbox.Command) {
	if s.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:     audit.ActionCommandClaimed,
		EntityType: "door",
		EntityID:   doorID,
		Source:     "device",
		Details:    map[string]any{"command_ids": commandIDs(claimed)},
	}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("writing claim audit entry", "door_id", doorID, "error", err)
	}
}

func commandIDs(commands []outbox.Command) []string {
	ids := make([]string, 0, len(commands))
	for i := range commands {
		ids = append(ids, commands[i].ID)
	}
	return ids
}
