package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"kiwoomapp/internal/engine"
	"kiwoomapp/internal/types"
)

type fakeDashboard struct {
	watch    []types.WatchItem
	modes    map[string]types.AccountMode
	holdings map[string][]types.Holding
}

func newFakeDashboard() *fakeDashboard {
	return &fakeDashboard{
		modes: map[string]types.AccountMode{"A1": types.ModeNone},
		holdings: map[string][]types.Holding{
			"A1": {{Code: "005930", HeldQty: 5, TradableQty: 5, PurchasePrice: 70000}},
		},
	}
}

func (f *fakeDashboard) State() types.StateView {
	return types.StateView{Day: "20240102", Phase: types.PhaseKRX, DayActive: true, Modes: f.modes}
}

func (f *fakeDashboard) Accounts() []string { return []string{"A1"} }

func (f *fakeDashboard) Watchlist() []types.WatchItem { return f.watch }

func (f *fakeDashboard) UpsertWatch(ctx context.Context, item types.WatchItem) error {
	f.watch = append(f.watch, item)
	return nil
}

func (f *fakeDashboard) RemoveWatch(ctx context.Context, code string) (bool, error) {
	for i, w := range f.watch {
		if w.Code == code {
			f.watch = append(f.watch[:i], f.watch[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDashboard) Modes() map[string]types.AccountMode { return f.modes }

func (f *fakeDashboard) SetMode(ctx context.Context, account string, mode types.AccountMode) error {
	if _, ok := f.modes[account]; !ok {
		return engine.ErrUnknownAccount
	}
	f.modes[account] = mode
	return nil
}

func (f *fakeDashboard) Holdings(account string) ([]types.Holding, error) {
	h, ok := f.holdings[account]
	if !ok {
		return nil, engine.ErrUnknownAccount
	}
	return h, nil
}

func (f *fakeDashboard) OpenOrders(account string) ([]types.OpenOrder, error) {
	if _, ok := f.holdings[account]; !ok {
		return nil, engine.ErrUnknownAccount
	}
	return nil, nil
}

func newTestReceiver() (*HTTPReceiver, *fakeDashboard) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	dash := newFakeDashboard()
	return NewHTTPReceiver(8080, dash, logger), dash
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestHTTPReceiver_HandleHealth(t *testing.T) {
	receiver, _ := newTestReceiver()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	receiver.Handler().ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status OK, got %v", resp.Status)
	}
	if body := decodeBody(t, resp); body["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", body["status"])
	}
}

func TestHTTPReceiver_State(t *testing.T) {
	receiver, _ := newTestReceiver()

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	w := httptest.NewRecorder()
	receiver.Handler().ServeHTTP(w, req)

	body := decodeBody(t, w.Result())
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected data object, got %v", body["data"])
	}
	if data["phase"] != "KRX" {
		t.Errorf("Expected phase KRX, got %v", data["phase"])
	}
}

func TestHTTPReceiver_WatchlistCRUD(t *testing.T) {
	receiver, dash := newTestReceiver()
	h := receiver.Handler()

	body, _ := json.Marshal(types.WatchItem{Code: "005930", Behavior: types.TagCL, Color: "red", Amount: 1000000})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/watchlist", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected OK on upsert, got %d", w.Code)
	}
	if len(dash.watch) != 1 || dash.watch[0].Amount != 1000000 {
		t.Errorf("Expected entry stored, got %+v", dash.watch)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/watchlist", strings.NewReader(`{"name":"no code"}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected BadRequest without code, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/watchlist/005930", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected OK on delete, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/watchlist/005930", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected NotFound on second delete, got %d", w.Code)
	}
}

func TestHTTPReceiver_SetMode(t *testing.T) {
	receiver, dash := newTestReceiver()
	h := receiver.Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"account":"A1","mode":"BOTH"}`, http.StatusOK},
		{"invalid mode", `{"account":"A1","mode":"SOMETIMES"}`, http.StatusBadRequest},
		{"missing account", `{"mode":"BUY"}`, http.StatusBadRequest},
		{"unknown account", `{"account":"Z9","mode":"BUY"}`, http.StatusNotFound},
		{"bad json", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/modes", strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}

	if dash.modes["A1"] != types.ModeBoth {
		t.Errorf("Expected mode BOTH, got %s", dash.modes["A1"])
	}
}

func TestHTTPReceiver_AccountSnapshots(t *testing.T) {
	receiver, _ := newTestReceiver()
	h := receiver.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/accounts/A1/holdings", nil))
	body := decodeBody(t, w.Result())
	data := body["data"].(map[string]interface{})
	if data["count"] != float64(1) {
		t.Errorf("Expected 1 holding, got %v", data["count"])
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/accounts/Z9/orders", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected NotFound for unknown account, got %d", w.Code)
	}
}

func TestHTTPReceiver_MethodNotAllowed(t *testing.T) {
	receiver, _ := newTestReceiver()

	w := httptest.NewRecorder()
	receiver.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/state", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected MethodNotAllowed, got %d", w.Code)
	}
}

func TestHTTPReceiver_StartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	// random high port to avoid conflicts
	receiver := NewHTTPReceiver(48123, newFakeDashboard(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := receiver.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	resp, err := http.Get("http://127.0.0.1:48123/metrics")
	if err != nil {
		t.Errorf("Failed to make request: %v", err)
	}
	if resp != nil {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(data), "go_goroutines") {
			t.Error("Expected default Go collectors in /metrics")
		}
	}

	if err := receiver.Stop(ctx); err != nil {
		t.Errorf("Failed to stop server: %v", err)
	}
}
