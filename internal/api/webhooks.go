package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/henryv2be-prog/access-core/internal/webhook"
)

// subscriptionRequest is the body for creating or patching a webhook
// subscription. Pointer fields distinguish "absent" from "zero" on PATCH.
type subscriptionRequest struct {
	Name           *string  `json:"name"`
	URL            *string  `json:"url"`
	Events         []string `json:"events"`
	Active         *bool    `json:"active"`
	MaxAttempts    *int     `json:"max_attempts"`
	TimeoutSeconds *int     `json:"timeout_seconds"`
}

// createdSubscription is the create response: the subscription plus the
// signing secret, revealed exactly once.
type createdSubscription struct {
	*webhook.Subscription
	Secret string `json:"secret"`
}

// handleListSubscriptions returns all webhook subscriptions.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subs.List(r.Context())
	if err != nil {
		s.logger.Error("listing webhook subscriptions", "error", err)
		writeInternalError(w, "failed to list subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// handleCreateSubscription registers a webhook subscription. The
// signing secret is generated server-side and returned only in this
// response; it is never readable again through the API.
func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sub := &webhook.Subscription{
		Active:         true,
		MaxAttempts:    s.whkCfg.DefaultMaxAttempts,
		TimeoutSeconds: s.whkCfg.DefaultTimeout,
	}
	if req.Name != nil {
		sub.Name = strings.TrimSpace(*req.Name)
	}
	if req.URL != nil {
		sub.URL = strings.TrimSpace(*req.URL)
	}
	sub.Events = req.Events
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if req.MaxAttempts != nil {
		sub.MaxAttempts = *req.MaxAttempts
	}
	if req.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *req.TimeoutSeconds
	}

	if msg := validateSubscription(sub); msg != "" {
		writeBadRequest(w, msg)
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		s.logger.Error("generating webhook secret", "error", err)
		writeInternalError(w, "failed to create subscription")
		return
	}
	sub.Secret = secret

	if err := s.subs.Create(r.Context(), sub); err != nil {
		if errors.Is(err, webhook.ErrSubscriptionExists) {
			writeConflict(w, "a subscription for this URL already exists")
			return
		}
		s.logger.Error("creating webhook subscription", "error", err)
		writeInternalError(w, "failed to create subscription")
		return
	}

	s.logger.Info("webhook subscription created", "id", sub.ID, "url", sub.URL)
	writeJSON(w, http.StatusCreated, createdSubscription{Subscription: sub, Secret: secret})
}

// handleGetSubscription returns one subscription by ID.
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			writeNotFound(w, "subscription not found")
			return
		}
		s.logger.Error("fetching webhook subscription", "error", err)
		writeInternalError(w, "failed to fetch subscription")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleUpdateSubscription applies a partial update. The secret cannot
// be changed: rotate by deleting and re-creating the subscription.
func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			writeNotFound(w, "subscription not found")
			return
		}
		s.logger.Error("fetching webhook subscription", "error", err)
		writeInternalError(w, "failed to fetch subscription")
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name != nil {
		sub.Name = strings.TrimSpace(*req.Name)
	}
	if req.URL != nil {
		sub.URL = strings.TrimSpace(*req.URL)
	}
	if req.Events != nil {
		sub.Events = req.Events
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if req.MaxAttempts != nil {
		sub.MaxAttempts = *req.MaxAttempts
	}
	if req.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *req.TimeoutSeconds
	}

	if msg := validateSubscription(sub); msg != "" {
		writeBadRequest(w, msg)
		return
	}

	if err := s.subs.Update(r.Context(), sub); err != nil {
		if errors.Is(err, webhook.ErrSubscriptionExists) {
			writeConflict(w, "a subscription for this URL already exists")
			return
		}
		s.logger.Error("updating webhook subscription", "id", sub.ID, "error", err)
		writeInternalError(w, "failed to update subscription")
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// handleDeleteSubscription removes a subscription and, via cascade, its
// delivery history.
func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.subs.Delete(r.Context(), id); err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			writeNotFound(w, "subscription not found")
			return
		}
		s.logger.Error("deleting webhook subscription", "id", id, "error", err)
		writeInternalError(w, "failed to delete subscription")
		return
	}

	s.logger.Info("webhook subscription deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleTestSubscription sends a webhook.test event to one subscription,
// bypassing its event filter.
func (s *Server) handleTestSubscription(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "dispatcher not running")
		return
	}

	delivery, err := s.dispatcher.TestSend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			writeNotFound(w, "subscription not found")
			return
		}
		s.logger.Error("sending test delivery", "error", err)
		writeInternalError(w, "failed to send test delivery")
		return
	}

	writeJSON(w, http.StatusAccepted, delivery)
}

// handleListDeliveries returns the most recent deliveries for one
// subscription, newest first.
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// 404 for unknown subscriptions rather than an empty list.
	if _, err := s.subs.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			writeNotFound(w, "subscription not found")
			return
		}
		s.logger.Error("fetching webhook subscription", "error", err)
		writeInternalError(w, "failed to fetch subscription")
		return
	}

	deliveries, err := s.deliveries.ListBySubscription(r.Context(), id, 0)
	if err != nil {
		s.logger.Error("listing deliveries", "subscription_id", id, "error", err)
		writeInternalError(w, "failed to list deliveries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// handleListEventTypes returns the catalog of event types subscriptions
// can filter on.
func (s *Server) handleListEventTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": webhook.EventTypes()})
}

// validateSubscription checks a subscription's user-supplied fields and
// returns a message describing the first problem, or "".
func validateSubscription(sub *webhook.Subscription) string {
	if sub.Name == "" {
		return "name is required"
	}
	if sub.URL == "" {
		return "url is required"
	}
	parsed, err := url.Parse(sub.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "url must be a valid http or https URL"
	}
	if len(sub.Events) == 0 {
		return "at least one event type is required"
	}
	for _, event := range sub.Events {
		if event == webhook.EventTypeAll {
			continue
		}
		if !webhook.ValidEventType(event) {
			return "unknown event type: " + event
		}
	}
	if sub.MaxAttempts < 1 {
		return "max_attempts must be at least 1"
	}
	if sub.TimeoutSeconds < 1 {
		return "timeout_seconds must be at least 1"
	}
	return ""
}
