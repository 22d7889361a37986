// Package httpapi is the JSON-over-HTTP wire layer: a uniform
// envelope, one handler per endpoint, and decorators for idempotency
// and validation that sit in front of the engine. The router uses
// http.NewServeMux with Go 1.22 method-prefixed patterns and
// PathValue-based routing, with a handler struct holding its
// collaborators.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/timour/reservation-engine/internal/engine"
	"github.com/timour/reservation-engine/internal/idempotency"
	"github.com/timour/reservation-engine/internal/metrics"
	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

// maxBodyBytes bounds request bodies; larger bodies fail as an oversize
// body transport error.
const maxBodyBytes = 1 << 20 // 1 MiB

// Handler holds every collaborator the HTTP surface calls into.
type Handler struct {
	engine      engine.API
	store       store.Store
	idempotency *idempotency.Layer
	metrics     *metrics.Metrics
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(eng engine.API, st store.Store, idem *idempotency.Layer, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		engine:      eng,
		store:       st,
		idempotency: idem,
		metrics:     m,
		validate:    validator.New(),
		logger:      logger,
	}
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		reqID := requestIDFrom(r.Context())
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "request body too large", reqID)
		} else {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body: "+err.Error(), reqID)
		}
		return false
	}
	if _, err := dec.Token(); err != io.EOF {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "body must contain a single JSON object", requestIDFrom(r.Context()))
		return false
	}
	return true
}

func (h *Handler) validateStruct(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			writeErrorDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "request failed validation", requestIDFrom(r.Context()), details)
			return false
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), requestIDFrom(r.Context()))
		return false
	}
	return true
}

// ---- GET /items ----

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	sortBy := store.SortBy(r.URL.Query().Get("sortBy"))
	if sortBy == "" {
		sortBy = store.SortByName
	}
	sortOrder := store.SortOrder(r.URL.Query().Get("sortOrder"))
	if sortOrder == "" {
		sortOrder = store.SortAsc
	}
	if sortBy != store.SortByName && sortBy != store.SortByAvailableQty {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "sortBy must be name or availableQty", requestIDFrom(r.Context()))
		return
	}
	if sortOrder != store.SortAsc && sortOrder != store.SortDesc {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "sortOrder must be asc or desc", requestIDFrom(r.Context()))
		return
	}

	items, err := h.engine.ListItems(r.Context(), sortBy, sortOrder)
	if err != nil {
		h.internalError(w, r, "list items", err)
		return
	}
	writeSuccess(w, http.StatusOK, items)
}

// ---- GET /items/:id ----

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := h.engine.GetItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ITEM_NOT_FOUND", "no item with that id", requestIDFrom(r.Context()))
		return
	}
	if err != nil {
		h.internalError(w, r, "get item", err)
		return
	}
	writeSuccess(w, http.StatusOK, item)
}

// ---- POST /reserve ----

type reserveRequest struct {
	UserID string `json:"userId" validate:"required"`
	ItemID string `json:"itemId" validate:"required"`
	Qty    int64  `json:"qty" validate:"required"`
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.withIdempotency(w, r, "POST /reserve", func(w http.ResponseWriter, r *http.Request) {
		var req reserveRequest
		if !h.decodeBody(w, r, &req) || !h.validateStruct(w, r, &req) {
			return
		}

		result, err := h.engine.Reserve(r.Context(), req.UserID, req.ItemID, req.Qty)
		if err != nil {
			h.internalError(w, r, "reserve", err)
			return
		}

		reqID := requestIDFrom(r.Context())
		switch result.Code {
		case engine.CodeOK:
			writeSuccess(w, http.StatusCreated, result.Reservation)
		case engine.CodeNotFound:
			writeError(w, http.StatusNotFound, "ITEM_NOT_FOUND", "no item with that id", reqID)
		case engine.CodeOutOfStock:
			writeErrorDetails(w, http.StatusConflict, "OUT_OF_STOCK", "insufficient available stock", reqID,
				map[string]int64{"available": result.Available})
		case engine.CodeInvalidQuantity:
			writeErrorDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "qty out of range", reqID,
				map[string]int64{"minQty": result.MinQty, "maxQty": result.MaxQty})
		default:
			h.internalError(w, r, "reserve: unexpected outcome", errors.New(string(result.Code)))
		}
	})
}

// ---- POST /confirm ----

type confirmRequest struct {
	UserID        string `json:"userId" validate:"required"`
	ReservationID string `json:"reservationId" validate:"required"`
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.withIdempotency(w, r, "POST /confirm", func(w http.ResponseWriter, r *http.Request) {
		var req confirmRequest
		if !h.decodeBody(w, r, &req) || !h.validateStruct(w, r, &req) {
			return
		}

		result, err := h.engine.Confirm(r.Context(), req.UserID, req.ReservationID)
		if err != nil {
			h.internalError(w, r, "confirm", err)
			return
		}

		reqID := requestIDFrom(r.Context())
		switch result.Code {
		case engine.CodeOK:
			writeSuccess(w, http.StatusOK, map[string]string{"status": "confirmed"})
		case engine.CodeAlreadyConfirmed:
			writeSuccess(w, http.StatusOK, map[string]string{"status": "already_confirmed"})
		case engine.CodeNotFound:
			writeError(w, http.StatusNotFound, "RESERVATION_NOT_FOUND", "no reservation with that id for this user", reqID)
		case engine.CodeCancelled:
			writeError(w, http.StatusConflict, "CANCELLED", "reservation was cancelled", reqID)
		case engine.CodeExpired:
			writeError(w, http.StatusConflict, "EXPIRED", "reservation has expired", reqID)
		default:
			h.internalError(w, r, "confirm: unexpected outcome", errors.New(string(result.Code)))
		}
	})
}

// ---- POST /cancel ----

type cancelRequest struct {
	UserID        string `json:"userId" validate:"required"`
	ReservationID string `json:"reservationId" validate:"required"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withIdempotency(w, r, "POST /cancel", func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if !h.decodeBody(w, r, &req) || !h.validateStruct(w, r, &req) {
			return
		}

		result, err := h.engine.Cancel(r.Context(), req.UserID, req.ReservationID)
		if err != nil {
			h.internalError(w, r, "cancel", err)
			return
		}

		reqID := requestIDFrom(r.Context())
		switch result.Code {
		case engine.CodeOK:
			writeSuccess(w, http.StatusOK, map[string]string{"status": "cancelled"})
		case engine.CodeAlreadyCancelled:
			writeSuccess(w, http.StatusOK, map[string]string{"status": "already_cancelled"})
		case engine.CodeNotFound:
			writeError(w, http.StatusNotFound, "RESERVATION_NOT_FOUND", "no reservation with that id for this user", reqID)
		case engine.CodeAlreadyConfirmed:
			writeError(w, http.StatusConflict, "ALREADY_CONFIRMED", "reservation was already confirmed", reqID)
		case engine.CodeExpired:
			writeError(w, http.StatusConflict, "EXPIRED", "reservation has expired", reqID)
		default:
			h.internalError(w, r, "cancel: unexpected outcome", errors.New(string(result.Code)))
		}
	})
}

// ---- GET /reservations/user/:userId ----

func (h *Handler) ListReservationsByUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	var status *model.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st := model.Status(s)
		status = &st
	}

	reservations, err := h.engine.ListReservationsByUser(r.Context(), userID, status)
	if err != nil {
		h.internalError(w, r, "list reservations by user", err)
		return
	}
	writeSuccess(w, http.StatusOK, reservations)
}

// ---- GET /reservations/:id ----

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.engine.GetReservation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "RESERVATION_NOT_FOUND", "no reservation with that id", requestIDFrom(r.Context()))
		return
	}
	if err != nil {
		h.internalError(w, r, "get reservation", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// ---- POST /expire/run ----

// ExpireRun triggers one batch expire() pass. The route performs no
// authentication or authorization check of its own.
func (h *Handler) ExpireRun(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Expire(r.Context())
	if err != nil {
		h.internalError(w, r, "expire run", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"expired": result.Expired,
		"message": "expiration sweep completed",
	})
}

// ---- GET /health ----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := h.store.Ping(r.Context()); err != nil {
		dbOK = false
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !dbOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, successEnvelope{
		OK: dbOK,
		Data: map[string]any{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks": map[string]bool{
				"database": dbOK,
				"cache":    true,
			},
		},
	})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("internal error", zap.String("op", op), zap.Error(err), zap.String("requestId", requestIDFrom(r.Context())))
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", requestIDFrom(r.Context()))
}
