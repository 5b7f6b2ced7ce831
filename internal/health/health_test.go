package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var res result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestHealthz_AlwaysOK(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if res := decodeBody(t, rec); res.Status != "ok" {
		t.Errorf("body status: got %q, want ok", res.Status)
	}
}

func TestReadyz_AllChecksPass(t *testing.T) {
	h := New(
		Checker{Name: "channel", Check: func(context.Context) error { return nil }},
		Checker{Name: "history", Check: func(context.Context) error { return nil }},
	)
	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()

	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	res := decodeBody(t, rec)
	if res.Checks["channel"] != "ok" || res.Checks["history"] != "ok" {
		t.Errorf("checks: got %v", res.Checks)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	h := New(
		Checker{Name: "channel", Check: func(context.Context) error { return nil }},
		Checker{Name: "history", Check: func(context.Context) error { return errors.New("database unreachable") }},
	)
	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()

	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}
	res := decodeBody(t, rec)
	if res.Status != "fail" {
		t.Errorf("body status: got %q, want fail", res.Status)
	}
	if res.Checks["history"] != "fail: database unreachable" {
		t.Errorf("history check: got %q", res.Checks["history"])
	}
}

type staticPinger struct{ err error }

func (p staticPinger) Ping(context.Context) error { return p.err }

func TestHistoryChecker(t *testing.T) {
	ok := HistoryChecker(staticPinger{})
	if err := ok.Check(context.Background()); err != nil {
		t.Errorf("healthy pinger: got %v", err)
	}

	bad := HistoryChecker(staticPinger{err: errors.New("boom")})
	if err := bad.Check(context.Background()); err == nil {
		t.Error("unreachable pinger: expected error")
	}
}
