package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/henryv2be-prog/access-core/internal/auth"
	"github.com/henryv2be-prog/access-core/internal/webhook"
)

func createSubscription(t *testing.T, env *testEnv, token string, body map[string]any) createdSubscription {
	t.Helper()

	resp, data := env.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, data)
	}
	var created createdSubscription
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshalling created subscription: %v", err)
	}
	return created
}

func TestCreateSubscription(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleAdmin)

	created := createSubscription(t, env, token, map[string]any{
		"name":   "monitor",
		"url":    "https://hooks.example.com/access",
		"events": []string{"access.granted", "access.denied"},
	})

	if created.ID == "" || created.Secret == "" {
		t.Fatalf("created = %+v, want ID and secret", created)
	}
	if created.MaxAttempts != 5 || created.TimeoutSeconds != 10 {
		t.Errorf("defaults not applied: %+v", created.Subscription)
	}

	// The secret is revealed only on create; GET must not expose it.
	resp, data := env.doJSON(t, http.MethodGet, "/api/v1/webhooks/"+created.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if _, leaked := raw["secret"]; leaked {
		t.Error("GET response exposes the signing secret")
	}
}

func TestCreateSubscription_Validation(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleAdmin)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"url": "https://x.example.com", "events": []string{"*"}}},
		{"missing url", map[string]any{"name": "x", "events": []string{"*"}}},
		{"bad scheme", map[string]any{"name": "x", "url": "ftp://x.example.com", "events": []string{"*"}}},
		{"no events", map[string]any{"name": "x", "url": "https://x.example.com"}},
		{"unknown event", map[string]any{"name": "x", "url": "https://x.example.com", "events": []string{"door.exploded"}}},
		{"bad max_attempts", map[string]any{"name": "x", "url": "https://x.example.com", "events": []string{"*"}, "max_attempts": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCreateSubscription_DuplicateURL(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleAdmin)

	body := map[string]any{
		"name":   "first",
		"url":    "https://hooks.example.com/dup",
		"events": []string{"*"},
	}
	createSubscription(t, env, token, body)

	body["name"] = "second"
	resp, _ := env.doJSON(t, http.MethodPost, "/api/v1/webhooks", token, body)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestUpdateSubscription(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleAdmin)

	created := createSubscription(t, env, token, map[string]any{
		"name":   "monitor",
		"url":    "https://hooks.example.com/access",
		"events": []string{"*"},
	})

	resp, data := env.doJSON(t, http.MethodPatch, "/api/v1/webhooks/"+created.ID, token,
		map[string]any{"active": false, "events": []string{"door.opened"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d: %s", resp.StatusCode, data)
	}
	var updated webhook.Subscription
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if updated.Active {
		t.Error("Active = true after deactivation")
	}
	if len(updated.Events) != 1 || updated.Events[0] != "door.opened" {
		t.Errorf("Events = %v", updated.Events)
	}
	if updated.Name != "monitor" {
		t.Errorf("Name = %q, untouched fields must survive a partial update", updated.Name)
	}
}

func TestDeleteSubscription(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleAdmin)

	created := createSubscription(t, env, token, map[string]any{
		"name":   "monitor",
		"url":    "https://hooks.example.com/access",
		"events": []string{"*"},
	})

	resp, _ := env.doJSON(t, http.MethodDelete, "/api/v1/webhooks/"+created.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp, _ = env.doJSON(t, http.MethodGet, "/api/v1/webhooks/"+created.ID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}

	resp, _ = env.doJSON(t, http.MethodDelete, "/api/v1/webhooks/"+created.ID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestListSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleAdmin)

	createSubscription(t, env, token, map[string]any{
		"name": "a", "url": "https://a.example.com", "events": []string{"*"},
	})
	createSubscription(t, env, token, map[string]any{
		"name": "b", "url": "https://b.example.com", "events": []string{"access.denied"},
	})

	resp, data := env.doJSON(t, http.MethodGet, "/api/v1/webhooks", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var list struct {
		Subscriptions []webhook.Subscription `json:"subscriptions"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if len(list.Subscriptions) != 2 {
		t.Errorf("subscriptions = %d, want 2", len(list.Subscriptions))
	}
}

func TestEventTypeCatalog(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleOperator)

	resp, data := env.doJSON(t, http.MethodGet, "/api/v1/webhooks/events", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var catalog struct {
		Events []webhook.EventTypeInfo `json:"events"`
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if len(catalog.Events) == 0 {
		t.Fatal("empty event catalog")
	}
	seen := map[string]bool{}
	for _, info := range catalog.Events {
		seen[info.Type] = true
		if info.Description == "" {
			t.Errorf("event %s has no description", info.Type)
		}
	}
	if !seen[webhook.EventAccessGranted] || !seen[webhook.EventDeliveryFailed] {
		t.Errorf("catalog missing core events: %v", seen)
	}
}

func TestTestSendEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleAdmin)

	received := make(chan struct{}, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	created := createSubscription(t, env, token, map[string]any{
		"name":   "monitor",
		"url":    receiver.URL,
		"events": []string{"door.opened"},
	})

	resp, data := env.doJSON(t, http.MethodPost, "/api/v1/webhooks/"+created.ID+"/test", token, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("test delivery never arrived")
	}

	// The delivery shows up in the history.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, data = env.doJSON(t, http.MethodGet, "/api/v1/webhooks/"+created.ID+"/deliveries", token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("deliveries status = %d", resp.StatusCode)
		}
		var history struct {
			Deliveries []webhook.Delivery `json:"deliveries"`
		}
		if err := json.Unmarshal(data, &history); err != nil {
			t.Fatalf("unmarshalling: %v", err)
		}
		if len(history.Deliveries) == 1 && history.Deliveries[0].Status == webhook.DeliveryDelivered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivery never reached delivered: %+v", history.Deliveries)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListDeliveries_UnknownSubscription(t *testing.T) {
	env := newTestEnv(t)
	token := mintToken(t, auth.RoleOperator)

	resp, _ := env.doJSON(t, http.MethodGet, "/api/v1/webhooks/whk-nope/deliveries", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
