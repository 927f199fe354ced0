package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/henryv2be-prog/access-core/internal/audit"
)

// recordingAuditRepo captures audit entries in memory.
type recordingAuditRepo struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditRepo) Create(_ context.Context, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *recordingAuditRepo) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	return &audit.ListResult{}, nil
}

func (r *recordingAuditRepo) byAction(action string) []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []audit.Entry
	for _, entry := range r.entries {
		if entry.Action == action {
			matched = append(matched, entry)
		}
	}
	return matched
}

// newTestDispatcher wires a dispatcher against in-memory SQLite repositories
// with a fast retry clock.
func newTestDispatcher(t *testing.T) (*Dispatcher, *SQLiteSubscriptionRepository, *SQLiteDeliveryRepository) {
	t.Helper()

	db := setupTestDB(t)
	subs := NewSQLiteSubscriptionRepository(db)
	deliveries := NewSQLiteDeliveryRepository(db)

	d := NewDispatcher(subs, deliveries, nil)
	d.SetBaseRetryDelay(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		d.Close()
		cancel()
	})

	return d, subs, deliveries
}

// waitForTerminal polls until the subscription's most recent delivery for
// the event reaches a terminal state.
func waitForTerminal(t *testing.T, deliveries *SQLiteDeliveryRepository, subID, event string) *Delivery {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := deliveries.ListBySubscription(context.Background(), subID, 10)
		if err != nil {
			t.Fatalf("ListBySubscription() error = %v", err)
		}
		for i := range rows {
			if rows[i].Event == event && rows[i].Status.Terminal() {
				return &rows[i]
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no terminal delivery for subscription %s event %s", subID, event)
	return nil
}

func TestTrigger_SuccessfulDelivery(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		mu.Lock()
		gotBody = body
		gotHeaders = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, subs, deliveries := newTestDispatcher(t)
	ctx := context.Background()

	sub := testSubscription("monitor", server.URL, EventAccessGranted)
	if err := subs.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Trigger(ctx, EventAccessGranted, map[string]any{"door_id": 7})

	delivery := waitForTerminal(t, deliveries, sub.ID, EventAccessGranted)
	if delivery.Status != DeliveryDelivered {
		t.Fatalf("Status = %s, want delivered", delivery.Status)
	}
	if delivery.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", delivery.Attempts)
	}
	if delivery.LastStatusCode == nil || *delivery.LastStatusCode != http.StatusOK {
		t.Errorf("LastStatusCode = %v, want 200", delivery.LastStatusCode)
	}

	mu.Lock()
	defer mu.Unlock()

	// Envelope shape.
	var envelope struct {
		Event     string         `json:"event"`
		Timestamp string         `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("unmarshalling received body: %v", err)
	}
	if envelope.Event != EventAccessGranted {
		t.Errorf("envelope.event = %q", envelope.Event)
	}
	if envelope.Data["door_id"] != float64(7) {
		t.Errorf("envelope.data = %v, want door_id 7", envelope.Data)
	}

	// Headers and signature over the exact received bytes.
	if gotHeaders.Get("X-Webhook-Event") != EventAccessGranted {
		t.Errorf("X-Webhook-Event = %q", gotHeaders.Get("X-Webhook-Event"))
	}
	if gotHeaders.Get("X-Webhook-Delivery") != delivery.ID {
		t.Errorf("X-Webhook-Delivery = %q, want %s", gotHeaders.Get("X-Webhook-Delivery"), delivery.ID)
	}
	if gotHeaders.Get("User-Agent") != userAgent {
		t.Errorf("User-Agent = %q", gotHeaders.Get("User-Agent"))
	}
	if !Verify(gotBody, sub.Secret, gotHeaders.Get("X-Webhook-Signature")) {
		t.Error("signature did not verify against received bytes")
	}
}

func TestTrigger_RetriesThenFails(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	var attemptTimes []time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		attemptTimes = append(attemptTimes, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, subs, deliveries := newTestDispatcher(t)
	ctx := context.Background()

	sub := testSubscription("flaky", server.URL, EventTypeAll)
	sub.MaxAttempts = 2
	if err := subs.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Trigger(ctx, EventDoorOpened, map[string]any{"door_id": 1})

	delivery := waitForTerminal(t, deliveries, sub.ID, EventDoorOpened)
	if delivery.Status != DeliveryFailed {
		t.Fatalf("Status = %s, want failed", delivery.Status)
	}
	if delivery.Attempts != 2 {
		t.Errorf("Attempts = %d, want exactly 2", delivery.Attempts)
	}
	if delivery.LastError == nil {
		t.Error("LastError not recorded")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("endpoint saw %d attempts, want 2", attempts)
	}
	// First retry delay is one base delay (2^0).
	if len(attemptTimes) == 2 {
		gap := attemptTimes[1].Sub(attemptTimes[0])
		if gap < 10*time.Millisecond {
			t.Errorf("retry gap = %v, want >= base delay", gap)
		}
	}
}

func TestTrigger_PermanentFailureAudited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, subs, deliveries := newTestDispatcher(t)
	auditRepo := &recordingAuditRepo{}
	d.SetAuditRepository(auditRepo)
	ctx := context.Background()

	sub := testSubscription("doomed", server.URL, EventAccessGranted)
	sub.MaxAttempts = 2
	if err := subs.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Trigger(ctx, EventAccessGranted, map[string]any{"door_id": 9})

	delivery := waitForTerminal(t, deliveries, sub.ID, EventAccessGranted)
	if delivery.Status != DeliveryFailed {
		t.Fatalf("Status = %s, want failed", delivery.Status)
	}

	failed := auditRepo.byAction(audit.ActionDeliveryFailed)
	if len(failed) != 1 {
		t.Fatalf("audit trail has %d delivery.failed entries, want 1", len(failed))
	}
	entry := failed[0]
	if entry.EntityType != "webhook" || entry.EntityID != sub.ID {
		t.Errorf("entry entity = %s/%s, want webhook/%s", entry.EntityType, entry.EntityID, sub.ID)
	}
	if entry.Source != "dispatcher" {
		t.Errorf("entry.Source = %q, want dispatcher", entry.Source)
	}
	if entry.Details["delivery_id"] != delivery.ID {
		t.Errorf("entry.Details[delivery_id] = %v, want %s", entry.Details["delivery_id"], delivery.ID)
	}
	if entry.Details["attempts"] != 2 {
		t.Errorf("entry.Details[attempts] = %v, want 2", entry.Details["attempts"])
	}
}

func TestTrigger_DeliveredNotAudited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, subs, deliveries := newTestDispatcher(t)
	auditRepo := &recordingAuditRepo{}
	d.SetAuditRepository(auditRepo)
	ctx := context.Background()

	sub := testSubscription("healthy", server.URL, EventAccessGranted)
	if err := subs.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Trigger(ctx, EventAccessGranted, map[string]any{"door_id": 9})
	waitForTerminal(t, deliveries, sub.ID, EventAccessGranted)

	if got := auditRepo.byAction(audit.ActionDeliveryFailed); len(got) != 0 {
		t.Errorf("successful delivery produced %d delivery.failed audit entries", len(got))
	}
}

func TestTrigger_EventFiltering(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, subs, deliveries := newTestDispatcher(t)
	ctx := context.Background()

	doorOnly := testSubscription("door-only", server.URL+"/door", EventDoorOpened)
	wildcard := testSubscription("wildcard", server.URL+"/all", EventTypeAll)
	for _, sub := range []*Subscription{doorOnly, wildcard} {
		if err := subs.Create(ctx, sub); err != nil {
			t.Fatalf("Create(%s) error = %v", sub.Name, err)
		}
	}

	d.Trigger(ctx, EventAccessDenied, map[string]any{"door_id": 2})

	// The wildcard subscription receives the event.
	waitForTerminal(t, deliveries, wildcard.ID, EventAccessDenied)

	// The filtered subscription never gets a delivery for it.
	rows, err := deliveries.ListBySubscription(ctx, doorOnly.ID, 10)
	if err != nil {
		t.Fatalf("ListBySubscription() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("door-only subscription received %d deliveries for access.denied", len(rows))
	}
}

func TestTrigger_PayloadSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d, subs, deliveries := newTestDispatcher(t)
	ctx := context.Background()

	sub := testSubscription("monitor", server.URL, EventTypeAll)
	if err := subs.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Trigger(ctx, EventAccessGranted, map[string]any{"door_id": 7})

	delivery := waitForTerminal(t, deliveries, sub.ID, EventAccessGranted)

	var envelope map[string]any
	if err := json.Unmarshal(delivery.Payload, &envelope); err != nil {
		t.Fatalf("unmarshalling payload snapshot: %v", err)
	}
	data, ok := envelope["data"].(map[string]any)
	if !ok || data["door_id"] != float64(7) {
		t.Errorf("payload snapshot = %s, want door_id 7", delivery.Payload)
	}
}

func TestTestSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, subs, deliveries := newTestDispatcher(t)
	ctx := context.Background()

	// Subscribed only to door.opened, but test sends bypass the filter.
	sub := testSubscription("monitor", server.URL, EventDoorOpened)
	if err := subs.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	created, err := d.TestSend(ctx, sub.ID)
	if err != nil {
		t.Fatalf("TestSend() error = %v", err)
	}
	if created.Event != EventWebhookTest {
		t.Errorf("Event = %q, want webhook.test", created.Event)
	}

	delivery := waitForTerminal(t, deliveries, sub.ID, EventWebhookTest)
	if delivery.Status != DeliveryDelivered {
		t.Errorf("Status = %s, want delivered", delivery.Status)
	}
}

func TestStart_RearmsPersistedRetry(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	db := setupTestDB(t)
	subs := NewSQLiteSubscriptionRepository(db)
	deliveries := NewSQLiteDeliveryRepository(db)
	ctx := context.Background()

	sub := testSubscription("monitor", server.URL, EventTypeAll)
	if err := subs.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Simulate a retry scheduled by a previous process: attempts made,
	// status retrying, next retry already due.
	retryAt := time.Now().UTC().Add(-time.Second)
	attemptAt := retryAt.Add(-time.Second)
	stranded := &Delivery{
		ID:             "del-stranded",
		SubscriptionID: sub.ID,
		Event:          EventDoorLocked,
		Payload:        []byte(`{"event":"door.locked","data":{}}`),
		Attempts:       1,
		MaxAttempts:    5,
		Status:         DeliveryRetrying,
		LastAttemptAt:  &attemptAt,
		NextRetryAt:    &retryAt,
	}
	if err := deliveries.Create(ctx, stranded); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d := NewDispatcher(subs, deliveries, nil)
	d.SetBaseRetryDelay(10 * time.Millisecond)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer d.Close()

	delivery := waitForTerminal(t, deliveries, sub.ID, EventDoorLocked)
	if delivery.Status != DeliveryDelivered {
		t.Fatalf("Status = %s, want delivered after re-arm", delivery.Status)
	}
	if delivery.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (one before restart, one after)", delivery.Attempts)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("endpoint saw %d attempts after restart, want 1", attempts)
	}
}

func TestBuildEnvelope_PassThrough(t *testing.T) {
	// A payload already carrying an event field is passed through untouched.
	payload, err := buildEnvelope(EventAccessGranted, map[string]any{
		"event":   "custom.event",
		"door_id": 3,
	})
	if err != nil {
		t.Fatalf("buildEnvelope() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if got["event"] != "custom.event" {
		t.Errorf("event = %v, want pass-through custom.event", got["event"])
	}
	if _, wrapped := got["data"]; wrapped {
		t.Error("pass-through payload was wrapped in an envelope")
	}
}

func TestBuildEnvelope_Wraps(t *testing.T) {
	payload, err := buildEnvelope(EventDoorOpened, map[string]any{"door_id": 4})
	if err != nil {
		t.Fatalf("buildEnvelope() error = %v", err)
	}

	var got struct {
		Event     string         `json:"event"`
		Timestamp string         `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if got.Event != EventDoorOpened {
		t.Errorf("event = %q", got.Event)
	}
	if got.Timestamp == "" {
		t.Error("timestamp missing")
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC 3339: %v", got.Timestamp, err)
	}
	if got.Data["door_id"] != float64(4) {
		t.Errorf("data = %v", got.Data)
	}
}
