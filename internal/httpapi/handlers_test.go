package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/timour/reservation-engine/internal/cache"
	"github.com/timour/reservation-engine/internal/clock"
	"github.com/timour/reservation-engine/internal/engine"
	"github.com/timour/reservation-engine/internal/httpapi"
	"github.com/timour/reservation-engine/internal/idempotency"
	"github.com/timour/reservation-engine/internal/metrics"
	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

// promauto registers metrics globally, so every test in this package
// must share one Metrics instance instead of each minting its own
// (which would panic with a duplicate-registration error).
var (
	sharedMetrics     *metrics.Metrics
	sharedMetricsOnce sync.Once
)

func testMetrics() *metrics.Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = metrics.New("reservation_engine_test")
	})
	return sharedMetrics
}

type testServer struct {
	handler http.Handler
	store   store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := time.Now()
	for _, it := range []*model.Item{
		{ID: "item_1", Name: "Widget", AvailableQty: 3, CreatedAt: now, UpdatedAt: now},
		{ID: "item_2", Name: "Gizmo", AvailableQty: 0, CreatedAt: now, UpdatedAt: now},
	} {
		if err := st.SeedItemIfMissing(context.Background(), it); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	eng := engine.New(st, clock.Real{}, cache.New(time.Minute, nil), model.DefaultReservationTTL)
	idem := idempotency.New(st, time.Hour)
	logger := zap.NewNop()
	h := httpapi.NewHandler(eng, st, idem, testMetrics(), logger)
	router := httpapi.NewRouter(h, httpapi.Options{
		CORSOrigin: "*",
		Logger:     logger,
		Metrics:    testMetrics(),
	})
	return &testServer{handler: router, store: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v, body=%s", err, rec.Body.String())
	}
	return env
}

// Basic reserve scenario.
func TestHTTPReserveBasic(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/reserve", map[string]any{
		"userId": "u1", "itemId": "item_1", "qty": 2,
	}, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if ok, _ := env["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %+v", env)
	}
}

func TestHTTPReserveOutOfStock(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/reserve", map[string]any{
		"userId": "u1", "itemId": "item_2", "qty": 1,
	}, nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	errBody := env["error"].(map[string]any)
	if errBody["code"] != "OUT_OF_STOCK" {
		t.Fatalf("expected OUT_OF_STOCK, got %+v", errBody)
	}
}

func TestHTTPReserveInvalidQuantity(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/reserve", map[string]any{
		"userId": "u1", "itemId": "item_1", "qty": 0,
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPReserveMissingField(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/reserve", map[string]any{
		"userId": "u1", "qty": 1,
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing itemId, got %d: %s", rec.Code, rec.Body.String())
	}
}

// Full reserve -> confirm round trip via HTTP.
func TestHTTPReserveThenConfirm(t *testing.T) {
	ts := newTestServer(t)
	reserveRec := ts.do(t, http.MethodPost, "/api/v1/reserve", map[string]any{
		"userId": "u1", "itemId": "item_1", "qty": 1,
	}, nil)
	env := decodeEnvelope(t, reserveRec)
	data := env["data"].(map[string]any)
	reservationID := data["id"].(string)

	confirmRec := ts.do(t, http.MethodPost, "/api/v1/confirm", map[string]any{
		"userId": "u1", "reservationId": reservationID,
	}, nil)
	if confirmRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", confirmRec.Code, confirmRec.Body.String())
	}
}

func TestHTTPGetItemNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/items/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHTTPListItems(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/items", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	data := env["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("expected 2 items, got %d", len(data))
	}
}

func TestHTTPHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

// Idempotent replay: a repeated reserve with the same Idempotency-Key
// returns a byte-identical body and does not double-decrement stock.
func TestHTTPIdempotentReplay(t *testing.T) {
	ts := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "test-key-0001"}
	body := map[string]any{"userId": "u1", "itemId": "item_1", "qty": 1}

	first := ts.do(t, http.MethodPost, "/api/v1/reserve", body, headers)
	second := ts.do(t, http.MethodPost, "/api/v1/reserve", body, headers)

	if first.Code != second.Code {
		t.Fatalf("expected identical status codes, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected byte-identical replay bodies:\n%s\nvs\n%s", first.Body.String(), second.Body.String())
	}

	itemRec := ts.do(t, http.MethodGet, "/api/v1/items/item_1", nil, nil)
	env := decodeEnvelope(t, itemRec)
	data := env["data"].(map[string]any)
	if int64(data["availableQty"].(float64)) != 2 {
		t.Fatalf("expected availableQty decremented only once (to 2), got %v", data["availableQty"])
	}
}

func TestHTTPInvalidIdempotencyKeyRejected(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/reserve", map[string]any{
		"userId": "u1", "itemId": "item_1", "qty": 1,
	}, map[string]string{"Idempotency-Key": "short"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed idempotency key, got %d", rec.Code)
	}
}
