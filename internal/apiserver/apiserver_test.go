package apiserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dnx/internal/session"
)

func TestHandleHealthReflectsRecordedEvents(t *testing.T) {
	cancel := &session.CancelFlag{}
	s := New("127.0.0.1:0", cancel)

	obs := s.Observer()
	obs.Notify(session.StateChangedEvent{From: "Invalid", To: "FwNormal"})
	obs.Notify(session.ProgressEvent{Phase: "lofw", Current: 1024, Total: 1024})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.State != "FwNormal" {
		t.Errorf("State = %q, want FwNormal", resp.State)
	}
	if resp.BytesTransferred != 1024 {
		t.Errorf("BytesTransferred = %d, want 1024", resp.BytesTransferred)
	}
}

func TestHandleHealthReportsErroredAfterErrorEvent(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	s.Observer().Notify(session.ErrorEvent{Code: "DeviceError", Message: "device error 7", State: "FwNormal", BytesTransferred: 512})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	s.httpSrv.Handler.ServeHTTP(rec, req)

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Status != "errored" {
		t.Errorf("Status = %q, want errored", resp.Status)
	}
}

func TestHandleCancelWithoutFlagReturns503(t *testing.T) {
	s := New("127.0.0.1:0", nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cancel", nil)
	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleCancelSetsFlag(t *testing.T) {
	cancel := &session.CancelFlag{}
	s := New("127.0.0.1:0", cancel)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cancel", nil)
	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !cancel.Cancelled() {
		t.Error("expected the CancelFlag to be set")
	}
}

func TestHandleEventsReplaysBoundedHistory(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	obs := s.Observer()
	for i := 0; i < eventBufferSize+10; i++ {
		obs.Notify(session.LogEvent{Level: "info", Message: "tick"})
	}

	s.mu.Lock()
	n := len(s.events)
	s.mu.Unlock()
	if n != eventBufferSize {
		t.Errorf("buffered events = %d, want %d", n, eventBufferSize)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	s.httpSrv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
