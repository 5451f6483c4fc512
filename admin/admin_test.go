package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/titanclass/flip-flop-protocol/exchange"
	"github.com/titanclass/flip-flop-protocol/metrics"
)

type fakeClient struct {
	records []exchange.ServerRecord
}

func (f fakeClient) Servers() []exchange.ServerRecord { return f.records }

func TestHealthzUnhealthyUntilMarked(t *testing.T) {
	s := New(fakeClient{}, metrics.New())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /healthz before MarkHealthy: status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	s.MarkHealthy()

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz after MarkHealthy: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestServersDumpsTable(t *testing.T) {
	now := time.Now()
	s := New(fakeClient{records: []exchange.ServerRecord{
		{Addr: 3, LastOffset: 42, LastSeenMonotonic: now},
	}}, metrics.New())

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /servers status = %d, want 200", rec.Code)
	}

	var got []ServerView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(got) != 1 || got[0].Addr != 3 || got[0].LastOffset != 42 {
		t.Errorf("got %+v, want one record addr=3 offset=42", got)
	}
}

func TestMetricsRouteMounted(t *testing.T) {
	s := New(fakeClient{}, metrics.New())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", rec.Code)
	}
}
