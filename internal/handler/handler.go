package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seongmin-k/coupon-rush/internal/cache"
	"github.com/seongmin-k/coupon-rush/internal/model"
	"github.com/seongmin-k/coupon-rush/internal/repository"
	"github.com/seongmin-k/coupon-rush/internal/service"
	"github.com/seongmin-k/coupon-rush/internal/stream"
)

// Issuer is the issuance surface the handler drives
type Issuer interface {
	Issue(ctx context.Context, userID, eventID string) (*service.IssueOutcome, error)
	Lookup(ctx context.Context, userID, eventID string) (string, bool, error)
	Redeem(ctx context.Context, userID, eventID, couponID string) error
}

// Admin is the event lifecycle surface the handler drives
type Admin interface {
	CreateEvent(ctx context.Context, params service.CreateEventParams) (*model.CouponEvent, error)
	InitializeStock(ctx context.Context, eventID string, total int64) (bool, error)
	Status(ctx context.Context, eventID string) (*service.EventStatus, error)
	DeactivateEvent(ctx context.Context, eventID string) error
}

// Pinger reports reachability of a downstream dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler exposes the JSON HTTP surface
type Handler struct {
	issuer   Issuer
	admin    Admin
	store    Pinger
	producer Pinger
	timeout  time.Duration
}

// New creates the handler. timeout is the end-to-end deadline applied to
// each issue request.
func New(issuer Issuer, admin Admin, store, producer Pinger, timeout time.Duration) *Handler {
	return &Handler{
		issuer:   issuer,
		admin:    admin,
		store:    store,
		producer: producer,
		timeout:  timeout,
	}
}

// Register mounts all routes on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/coupons/issue", h.issueCoupon)
	mux.HandleFunc("POST /api/v1/coupons/redeem", h.redeemCoupon)
	mux.HandleFunc("GET /api/v1/coupons/status/{event_id}", h.eventStatus)
	mux.HandleFunc("GET /api/v1/coupons/user/{user_id}/event/{event_id}", h.userCoupon)
	mux.HandleFunc("POST /api/v1/admin/events", h.createEvent)
	mux.HandleFunc("POST /api/v1/admin/events/{event_id}/stock", h.initializeStock)
	mux.HandleFunc("POST /api/v1/admin/events/{event_id}/deactivate", h.deactivateEvent)
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", promhttp.Handler())
}

type issueRequest struct {
	UserID  string `json:"user_id"`
	EventID string `json:"event_id"`
}

type issueResponse struct {
	Success   bool   `json:"success"`
	CouponID  string `json:"coupon_id,omitempty"`
	Remaining *int64 `json:"remaining,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (h *Handler) issueCoupon(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	outcome, err := h.issuer.Issue(ctx, req.UserID, req.EventID)
	if err != nil {
		h.writeIssueError(w, err)
		return
	}

	resp := issueResponse{
		Success: outcome.Success,
		Reason:  outcome.Reason,
	}
	if outcome.Success {
		resp.CouponID = outcome.CouponID
		resp.Remaining = &outcome.Remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeIssueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrStockNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "event stock not initialized")
	case errors.Is(err, cache.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, stream.ErrPublishFailed):
		// The service has attempted to compensate the decision; the client may
		// retry safely.
		writeError(w, http.StatusServiceUnavailable, "event log unavailable, please retry")
	default:
		log.Printf("handler: issue failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type redeemRequest struct {
	UserID   string `json:"user_id"`
	EventID  string `json:"event_id"`
	CouponID string `json:"coupon_id"`
}

func (h *Handler) redeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := h.issuer.Redeem(r.Context(), req.UserID, req.EventID, req.CouponID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, stream.ErrPublishFailed):
		writeError(w, http.StatusServiceUnavailable, "event log unavailable, please retry")
	default:
		log.Printf("handler: redeem failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) eventStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.admin.Status(r.Context(), r.PathValue("event_id"))
	if err != nil {
		h.writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":           status.EventID,
		"remaining_stock":    status.RemainingStock,
		"total_participants": status.TotalParticipants,
		"total_issued":       status.TotalIssued,
	})
}

func (h *Handler) userCoupon(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	eventID := r.PathValue("event_id")

	couponID, found, err := h.issuer.Lookup(r.Context(), userID, eventID)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}

	resp := map[string]interface{}{
		"user_id":  userID,
		"event_id": eventID,
	}
	if found {
		resp["coupon_id"] = couponID
	} else {
		resp["coupon_id"] = nil
		resp["message"] = "no coupon found"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var params service.CreateEventParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	event, err := h.admin.CreateEvent(r.Context(), params)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

func (h *Handler) initializeStock(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	total, err := strconv.ParseInt(r.URL.Query().Get("initial_stock"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "initial_stock must be an integer")
		return
	}

	created, err := h.admin.InitializeStock(r.Context(), eventID, total)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}

	message := "stock already initialized"
	if created {
		message = "stock initialized"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":      eventID,
		"initial_stock": total,
		"message":       message,
	})
}

func (h *Handler) deactivateEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeactivateEvent(r.Context(), r.PathValue("event_id")); err != nil {
		h.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (h *Handler) writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, cache.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		log.Printf("handler: admin operation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error", "message": "store unavailable",
		})
		return
	}
	if err := h.producer.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error", "message": "event log unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "coupon-rush",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("handler: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
