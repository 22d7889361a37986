package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/timour/reservation-engine/internal/idempotency"
)

// bufferingRecorder captures a handler's response instead of writing it
// straight through, so withIdempotency can decide whether to persist it
// before flushing to the real ResponseWriter. This is an explicit
// decorator rather than a response-writer method monkey-patched to
// sneak in caching as a side effect.
type bufferingRecorder struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
}

func newBufferingRecorder() *bufferingRecorder {
	return &bufferingRecorder{header: make(http.Header), statusCode: http.StatusOK}
}

func (b *bufferingRecorder) Header() http.Header { return b.header }

func (b *bufferingRecorder) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferingRecorder) WriteHeader(code int) { b.statusCode = code }

func (b *bufferingRecorder) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, vs := range b.header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(b.body.Bytes())
}

// withIdempotency wraps fn with a lookup/replay/store policy: a hit
// replays the cached status+body verbatim and never re-invokes fn; a
// miss runs fn, then persists the result if and only if it succeeded
// (2xx).
func (h *Handler) withIdempotency(w http.ResponseWriter, r *http.Request, route string, fn func(http.ResponseWriter, *http.Request)) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		fn(w, r)
		return
	}

	reqID := requestIDFrom(r.Context())
	if !idempotency.ValidateKey(key) {
		writeError(w, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "idempotency key must be 8-255 chars of [A-Za-z0-9_-]", reqID)
		return
	}

	userID, err := peekUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body: "+err.Error(), reqID)
		return
	}

	cached, err := h.idempotency.Lookup(r.Context(), key, route, userID)
	if err != nil {
		h.internalError(w, r, "idempotency lookup", err)
		return
	}
	if cached != nil {
		h.metrics.IdempotencyHitsTotal.Inc()
		h.logger.Info("idempotency replay", zap.String("route", route), zap.String("key", key))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.Status)
		_, _ = w.Write(cached.Body)
		return
	}
	h.metrics.IdempotencyMissesTotal.Inc()

	rec := newBufferingRecorder()
	fn(rec, r)

	resp := idempotency.Response{Status: rec.statusCode, Body: rec.body.Bytes()}
	if err := h.idempotency.Store(r.Context(), key, route, userID, resp); err != nil {
		h.internalError(w, r, "idempotency store", err)
		return
	}
	rec.flush(w)
}

// peekUserID reads userId out of the JSON body without consuming it for
// the downstream decoder, so the idempotency composite key (key, route,
// userId) can be formed before fn runs.
func peekUserID(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var probe struct {
		UserID string `json:"userId"`
	}
	if len(body) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", err
	}
	return probe.UserID, nil
}
