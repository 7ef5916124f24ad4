package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"visitmap/internal/adapters/visits"
	"visitmap/internal/core"
	"visitmap/internal/infra/persistence/fs"
	"visitmap/internal/infra/persistence/memory"
	"visitmap/internal/infra/persistence/s3"
	"visitmap/internal/infra/persistence/sqlite"
	"visitmap/pkg/domain"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func do(t *testing.T, h http.Handler, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

// TestIntegrationSmoke drives the HTTP API end to end over every backend that
// runs in-process: upload legacy data, merge current data, read it back and
// summarize it, checking the observability exporters saw each operation.
func TestIntegrationSmoke(t *testing.T) {
	variants := []struct {
		name string
		open func(t *testing.T) domain.VisitStore
	}{
		{
			name: "memory",
			open: func(*testing.T) domain.VisitStore { return memory.NewStore() },
		},
		{
			name: "fs",
			open: func(t *testing.T) domain.VisitStore {
				s, err := fs.New(t.TempDir())
				if err != nil {
					t.Fatalf("new fs store: %v", err)
				}
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) domain.VisitStore {
				s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "visits.db"))
				if err != nil {
					t.Skipf("sqlite unavailable: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "mock-s3",
			open: func(*testing.T) domain.VisitStore {
				s, _ := s3.NewMockForTests()
				return s
			},
		},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			store := v.open(t)
			metrics := core.NewExpvarMetricsRecorder("")
			var traces bytes.Buffer
			tracer := core.NewJSONTracer(&traces)
			svc := core.NewService(store,
				core.WithMetricsRecorder(metrics),
				core.WithTracer(tracer),
				core.WithClock(fixedClock(time.Date(2024, time.October, 2, 12, 0, 0, 0, time.UTC))),
			)
			router := visits.NewRouter(svc, visits.Config{})

			if code, _ := do(t, router, http.MethodGet, "/api/v1/visits?netId=jdoe2", ""); code != http.StatusNotFound {
				t.Fatalf("expected 404 before any save, got %d", code)
			}
			code, body := do(t, router, http.MethodPost, "/api/v1/visits",
				`{"netId":"jdoe2","visits":{"2024-09-28":1,"2024-09-29":2,"2024-09-30":1}}`)
			if code != http.StatusOK || body["success"] != true {
				t.Fatalf("legacy save: %d %v", code, body)
			}
			code, body = do(t, router, http.MethodPost, "/api/v1/visits",
				`{"netId":"jdoe2","visits":{"2024-09-30":{"CRCE":1},"2024-10-01":{"ARC":1},"2024-10-02":{"ARC":1}}}`)
			if code != http.StatusOK {
				t.Fatalf("current save: %d %v", code, body)
			}

			got, err := store.Get(context.Background(), "jdoe2")
			if err != nil {
				t.Fatalf("store get: %v", err)
			}
			want := domain.VisitRecord{
				"2024-09-28": {1, 0}, "2024-09-29": {1, 0}, "2024-09-30": {1, 1},
				"2024-10-01": {1, 0}, "2024-10-02": {1, 0},
			}
			if !got.Equal(want) {
				t.Fatalf("stored record: got %v want %v", got, want)
			}

			code, body = do(t, router, http.MethodGet, "/api/v1/visits/summary?netId=jdoe2", "")
			if code != http.StatusOK || body["asOf"] != "2024-10-02" {
				t.Fatalf("summary: %d %v", code, body)
			}
			arc := body["facilities"].([]any)[0].(map[string]any)
			if arc["code"] != "ARC" || arc["longestStreak"] != float64(5) || arc["hotStreak"] != true || arc["active"] != true {
				t.Fatalf("unexpected ARC summary %v", arc)
			}

			code, body = do(t, router, http.MethodGet, "/api/v1/visits/calendar?netId=jdoe2", "")
			if code != http.StatusOK {
				t.Fatalf("calendar: %d %v", code, body)
			}
			if season := body["season"].(map[string]any); season["start"] != "2024-08-01" {
				t.Fatalf("unexpected season %v", season)
			}

			snap := metrics.Snapshot()
			if snap.Results["save_visits"]["success"] != 2 || snap.Results["load_visits"]["success"] != 1 {
				t.Fatalf("unexpected metrics %+v", snap.Results)
			}
			if traces.Len() == 0 {
				t.Fatalf("expected trace exporter to emit spans")
			}
			var sawSummary bool
			for _, entry := range tracer.Entries() {
				if entry.Operation == "summarize_visits" && entry.Status == "success" {
					sawSummary = true
				}
			}
			if !sawSummary {
				t.Fatalf("expected summarize_visits span, entries=%+v", tracer.Entries())
			}
		})
	}

	if os.Getenv("VISITMAP_STORAGE_DRIVER") != "" {
		t.Fatalf("expected no test-induced env leakage")
	}
}
