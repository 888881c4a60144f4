package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"syncd/internal/executor"
	"syncd/internal/job"
	"syncd/internal/storage"
	"syncd/internal/task/manager"
	logx "syncd/pkg/logx"
)

func newTestServer(t *testing.T) (*Server, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	m := manager.New(manager.Config{}, st, nil, executor.NewRegistry(), nil, logx.Nop())
	return New(Config{}, m, logx.Nop()), st
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestEnqueueAndQueueStatus(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/jobs/inventory_sync/enqueue", `{"priority":"low","source":"pos"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue = %d %s", rec.Code, rec.Body.String())
	}
	var it job.QueueItem
	decodeInto(t, rec, &it)
	if it.Priority != job.PriorityMedium || it.Source != job.SourcePOS {
		t.Fatalf("item = %+v", it)
	}

	rec = do(t, s, http.MethodPost, "/api/jobs/pos_order_sync/run?source=system", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("run = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/queue", "")
	var qs manager.QueueStatus
	decodeInto(t, rec, &qs)
	if len(qs.Pending) != 2 || qs.Pending[0].JobType != job.POSOrderSync {
		t.Fatalf("pending = %+v", qs.Pending)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	cases := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodPost, "/api/jobs/refund_sync/run", "", http.StatusBadRequest},
		{http.MethodPost, "/api/jobs/order_sync/run?source=kiosk", "", http.StatusBadRequest},
		{http.MethodPost, "/api/jobs/order_sync/enqueue", `{"priority":"urgent"}`, http.StatusBadRequest},
		{http.MethodGet, "/api/runs?limit=abc", "", http.StatusBadRequest},
		{http.MethodPatch, "/api/schedules/nope", `{"is_active":true}`, http.StatusNotFound},
		{http.MethodPatch, "/api/schedules/nope", `{}`, http.StatusBadRequest},
		{http.MethodPatch, "/api/schedules/nope", `{"colour":"red"}`, http.StatusBadRequest},
		{http.MethodGet, "/api/nothing", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := do(t, s, tc.method, tc.target, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s %s = %d, want %d (%s)", tc.method, tc.target, rec.Code, tc.want, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Fatalf("%s %s body = %s", tc.method, tc.target, rec.Body.String())
		}
	}
}

func TestScheduleAdministration(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	ctx := context.Background()
	first, _ := st.InsertSchedule(ctx, job.Schedule{Type: job.OrderSync, Interval: 15, Priority: job.PriorityHigh})
	_, _ = st.InsertSchedule(ctx, job.Schedule{Type: job.OrderSync, Interval: 15, Priority: job.PriorityHigh})

	rec := do(t, s, http.MethodPatch, "/api/schedules/"+first.ID, `{"interval":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid interval = %d", rec.Code)
	}
	rec = do(t, s, http.MethodPatch, "/api/schedules/"+first.ID, `{"interval":20}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", rec.Code, rec.Body.String())
	}
	var sc job.Schedule
	decodeInto(t, rec, &sc)
	if sc.Interval != 20 {
		t.Fatalf("interval = %d", sc.Interval)
	}

	rec = do(t, s, http.MethodPost, "/api/schedules/cleanup", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"removed":1`) {
		t.Fatalf("cleanup = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodPost, "/api/schedules/reset", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"corrected":1`) {
		t.Fatalf("reset = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/schedules", "")
	var list []job.Schedule
	decodeInto(t, rec, &list)
	if len(list) != 1 || list[0].Interval != 15 {
		t.Fatalf("schedules = %+v", list)
	}

	rec = do(t, s, http.MethodGet, "/api/automation", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_jobs":1`) {
		t.Fatalf("automation = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/runs?limit=5", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("runs = %d %s", rec.Code, rec.Body.String())
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off, _ := newTestServer(t)
	if rec := do(t, off, http.MethodGet, "/debug/pprof/cmdline", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: got %d", rec.Code)
	}

	m := manager.New(manager.Config{}, storage.NewMemory(), nil, executor.NewRegistry(), nil, logx.Nop())
	on := New(Config{Pprof: true}, m, logx.Nop())
	if rec := do(t, on, http.MethodGet, "/debug/pprof/cmdline", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof cmdline: got %d", rec.Code)
	}
	if rec := do(t, on, http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("pprof index: got %d", rec.Code)
	}
}
