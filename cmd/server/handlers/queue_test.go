// Package handlers tests for the queue REST surface.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/taskdeck/backend/internal/models"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/monitor"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/queue"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/scheduler"
)

// stubDispatcher always succeeds; handler tests exercise the HTTP surface,
// not delivery.
type stubDispatcher struct{}

func (stubDispatcher) Dispatch(ctx context.Context, op *models.Operation) error {
	return nil
}

// offlineProber keeps the monitor offline so drains never run during tests.
type offlineProber struct{}

func (offlineProber) Online(ctx context.Context) bool { return false }

func newTestHandler(t *testing.T) (*QueueHandler, *queue.Queue) {
	t.Helper()

	q, err := queue.New(queue.NewMemoryStore())
	if err != nil {
		t.Fatalf("queue.New failed: %v", err)
	}

	sched := scheduler.New(q, stubDispatcher{}, []time.Duration{time.Millisecond})
	mon := monitor.New(offlineProber{}, sched, time.Hour)

	return NewQueueHandler(q, sched, mon), q
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return body
}

// =====================================================
// Enqueue Endpoint Tests
// =====================================================

// TestEnqueue_created verifies a valid enqueue returns the operation id.
func TestEnqueue_created(t *testing.T) {
	h, q := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/queue/operations", strings.NewReader(
		`{"kind":"update","entity_type":"task","entity_id":"t1","owner_scope":"ws-1","payload":{"title":"a"}}`))
	rec := httptest.NewRecorder()

	h.Enqueue(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["id"] == "" || body["id"] == nil {
		t.Error("response should carry the operation id")
	}
	if got := len(q.ListPending()); got != 1 {
		t.Errorf("ListPending() length = %d, want 1", got)
	}
}

// TestEnqueue_generatesCreateID verifies creates without an entity id get a
// client-assigned one.
func TestEnqueue_generatesCreateID(t *testing.T) {
	h, q := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/queue/operations", strings.NewReader(
		`{"kind":"create","entity_type":"task","owner_scope":"ws-1","payload":{"title":"a"}}`))
	rec := httptest.NewRecorder()

	h.Enqueue(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	body := decodeBody(t, rec)
	entityID, _ := body["entity_id"].(string)
	if entityID == "" {
		t.Fatal("response should carry the generated entity id")
	}

	pending := q.ListPending()
	if len(pending) != 1 || pending[0].EntityID != entityID {
		t.Errorf("queued entity id = %v, want %q", pending, entityID)
	}
}

// TestEnqueue_badRequests verifies malformed and invalid bodies are rejected.
func TestEnqueue_badRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"kind":`},
		{"unknown kind", `{"kind":"merge","entity_type":"task","entity_id":"t1"}`},
		{"unknown entity type", `{"kind":"update","entity_type":"sprint","entity_id":"s1"}`},
		{"update without entity id", `{"kind":"update","entity_type":"task"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, q := newTestHandler(t)

			req := httptest.NewRequest(http.MethodPost, "/api/queue/operations", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.Enqueue(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["error"] == nil || body["code"] == nil {
				t.Errorf("error response should carry error and code, got %v", body)
			}
			if q.Len() != 0 {
				t.Errorf("rejected request should enqueue nothing, Len() = %d", q.Len())
			}
		})
	}
}

// =====================================================
// Read Endpoint Tests
// =====================================================

// TestListEndpoints verifies the three projections.
func TestListEndpoints(t *testing.T) {
	h, q := newTestHandler(t)

	id1, err := q.Enqueue(models.OperationUpdate, models.EntityTask, "t1", "ws-1", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(models.OperationUpdate, models.EntityTask, "t2", "ws-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkFailed(id1, "gone"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCount float64
	}{
		{"all", h.ListAll, 2},
		{"pending", h.ListPending, 1},
		{"failed", h.ListFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["count"] != tt.wantCount {
				t.Errorf("count = %v, want %v", body["count"], tt.wantCount)
			}
		})
	}
}

// deliveryDispatcher honors context cancellation and records outcomes.
type deliveryDispatcher struct {
	mu        sync.Mutex
	delivered int
	cancelled int
}

func (d *deliveryDispatcher) Dispatch(ctx context.Context, op *models.Operation) error {
	// Let the HTTP handler return before checking, so a request-scoped
	// context would already be cancelled here.
	time.Sleep(20 * time.Millisecond)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		d.cancelled++
		return err
	}
	d.delivered++
	return nil
}

func (d *deliveryDispatcher) counts() (delivered, cancelled int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered, d.cancelled
}

// TestRetryFailed_drainsWhileOnline verifies the drain started by the retry
// endpoint outlives the request: the requeued record must actually be
// delivered, not aborted when net/http cancels the request context.
func TestRetryFailed_drainsWhileOnline(t *testing.T) {
	q, err := queue.New(queue.NewMemoryStore())
	if err != nil {
		t.Fatalf("queue.New failed: %v", err)
	}

	disp := &deliveryDispatcher{}
	sched := scheduler.New(q, disp, []time.Duration{time.Millisecond})
	mon := monitor.New(offlineProber{}, sched, time.Hour)

	id, err := q.Enqueue(models.OperationUpdate, models.EntityTask, "t1", "ws-1", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkFailed(id, "gone"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	// Queue holds only the failed record, so the reconnect drain is a no-op
	mon.SetOnline(context.Background(), true)
	waitForCond(t, func() bool { return !sched.IsDraining() }, "reconnect drain never finished")

	h := NewQueueHandler(q, sched, mon)
	srv := httptest.NewServer(http.HandlerFunc(h.RetryFailed))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	waitForCond(t, func() bool { return q.Len() == 0 }, "requeued record was never delivered")

	delivered, cancelled := disp.counts()
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	if cancelled != 0 {
		t.Errorf("cancelled dispatches = %d, want 0", cancelled)
	}
}

// waitForCond polls until cond holds or the deadline passes.
func waitForCond(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// TestStatus verifies the status projection.
func TestStatus(t *testing.T) {
	h, q := newTestHandler(t)

	if _, err := q.Enqueue(models.OperationCreate, models.EntityTask, "t1", "ws-1", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/queue/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["online"] != false {
		t.Errorf("online = %v, want false", body["online"])
	}
	stats, ok := body["stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("stats missing: %v", body)
	}
	if stats["pending"] != float64(1) {
		t.Errorf("stats.pending = %v, want 1", stats["pending"])
	}
}

// =====================================================
// Failed Record Endpoint Tests
// =====================================================

// TestClearFailed verifies the acknowledgment path.
func TestClearFailed(t *testing.T) {
	h, q := newTestHandler(t)

	id, err := q.Enqueue(models.OperationUpdate, models.EntityTask, "t1", "ws-1", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkFailed(id, "gone"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ClearFailed(rec, httptest.NewRequest(http.MethodDelete, "/api/queue/failed", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["cleared"] != float64(1) {
		t.Errorf("cleared = %v, want 1", body["cleared"])
	}
	if got := len(q.ListFailed()); got != 0 {
		t.Errorf("ListFailed() length = %d, want 0", got)
	}
}

// TestRetryFailed verifies the manual re-queue path.
func TestRetryFailed(t *testing.T) {
	h, q := newTestHandler(t)

	id, err := q.Enqueue(models.OperationUpdate, models.EntityTask, "t1", "ws-1", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkFailed(id, "gone"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	rec := httptest.NewRecorder()
	h.RetryFailed(rec, httptest.NewRequest(http.MethodPost, "/api/queue/failed/retry", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["requeued"] != float64(1) {
		t.Errorf("requeued = %v, want 1", body["requeued"])
	}
	if got := len(q.ListPending()); got != 1 {
		t.Errorf("ListPending() length = %d, want 1", got)
	}
}
