package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/evdnx/gotsma/engine"
	"github.com/evdnx/gotsma/types"
)

type fakeControl struct {
	on      bool
	sellErr error
	sells   int
}

func (f *fakeControl) Status() engine.Status {
	return engine.Status{Symbol: "BTC/USD", Phase: "watching", Crossunder: f.on}
}

func (f *fakeControl) ManualSell(context.Context) (engine.ExitResult, error) {
	f.sells++
	if f.sellErr != nil {
		return engine.ExitResult{}, f.sellErr
	}
	return engine.ExitResult{Reason: engine.ReasonManual, Closed: true, Qty: 0.5, PnL: 1}, nil
}

func (f *fakeControl) SetCrossunder(on bool) { f.on = on }

func (f *fakeControl) CrossunderEnabled() bool { return f.on }

func newTestServer(t *testing.T, ctl *fakeControl, onToggle func(bool) error) *Server {
	t.Helper()
	s, err := New(Config{Control: ctl, OnToggle: onToggle})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthAndStatus(t *testing.T) {
	s := newTestServer(t, &fakeControl{}, nil)
	if w := do(s, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	w := do(s, http.MethodGet, "/status", "")
	var st engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Symbol != "BTC/USD" || st.Phase != "watching" {
		t.Fatalf("unexpected status %+v", st)
	}
	if w := do(s, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "gotsma_") {
		t.Fatalf("metrics endpoint should expose gotsma collectors")
	}
}

func TestSell(t *testing.T) {
	ctl := &fakeControl{}
	s := newTestServer(t, ctl, nil)
	w := do(s, http.MethodPost, "/sell", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"reason":"Manual Sell"`) {
		t.Fatalf("sell: %d %s", w.Code, w.Body.String())
	}

	ctl.sellErr = types.ErrNoPosition
	if w := do(s, http.MethodPost, "/sell", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without position, got %d", w.Code)
	}
	ctl.sellErr = &types.OrderError{Op: "submit", Err: types.ErrOrderRejected}
	if w := do(s, http.MethodPost, "/sell", ""); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on rejection, got %d", w.Code)
	}
}

func TestCrossunderToggle(t *testing.T) {
	ctl := &fakeControl{}
	var persisted []bool
	s := newTestServer(t, ctl, func(on bool) error {
		persisted = append(persisted, on)
		return nil
	})

	do(s, http.MethodPost, "/crossunder", "") // flip
	if !ctl.on {
		t.Fatalf("empty body should flip the flag on")
	}
	do(s, http.MethodPost, "/crossunder", `{"enabled":true}`)
	do(s, http.MethodPost, "/crossunder", `{"enabled":false}`)
	if ctl.on {
		t.Fatalf("explicit false not applied")
	}
	if len(persisted) != 3 || persisted[0] != true || persisted[2] != false {
		t.Fatalf("every toggle should be persisted, got %v", persisted)
	}
	if w := do(s, http.MethodPost, "/crossunder", `{"enabled":`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body should be rejected, got %d", w.Code)
	}
}

func TestToggleSnapshotFailure(t *testing.T) {
	s := newTestServer(t, &fakeControl{}, func(bool) error { return errors.New("disk full") })
	w := do(s, http.MethodPost, "/crossunder", `{"enabled":true}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"persisted":false`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}
