package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shoplite/order-fulfillment/internal/catalog"
	"github.com/shoplite/order-fulfillment/internal/fulfillment"
	"github.com/shoplite/order-fulfillment/internal/jobs"
	kafkax "github.com/shoplite/order-fulfillment/internal/kafka"
	"github.com/shoplite/order-fulfillment/internal/loyalty"
	"github.com/shoplite/order-fulfillment/internal/orders"
	"github.com/shoplite/order-fulfillment/internal/redisx"
)

// OrdersHandler is the thin enqueue-side surface. Mutations that can wait go
// to the job queue; cancel and rate run synchronously so the caller gets the
// business error directly.
type OrdersHandler struct {
	Repo      *orders.Repo
	Catalog   *catalog.Repo
	Loyalty   *loyalty.Ledger
	Svc       *fulfillment.Service
	Redis     *redis.Client
	Producers map[jobs.Type]*kafkax.Producer
	Service   string
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Post("/orders/{id}/status", h.updateStatus)
	r.Post("/orders/{id}/payment", h.processPayment)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/rating", h.rateOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/external/{externalID}", h.getOrderByExternalID)
	r.Get("/products", h.listProducts)
	r.Get("/users/{id}/loyalty", h.loyaltyBalance)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orders.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orders.ErrNotAuthorized):
		code = http.StatusForbidden
	case errors.Is(err, orders.ErrInvalidRequest),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrAlreadyRated),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrProductUnavailable):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (h *OrdersHandler) enqueue(job jobs.Job) {
	p := h.Producers[job.Type]
	p.Publish(jobs.PartitionKey(job), kafkax.MustMarshal(job))
}

type createOrderReq struct {
	ExternalID      string           `json:"external_id"`
	UserID          string           `json:"user_id"`
	Items           []jobs.ItemInput `json:"items"`
	DeliveryAddress string           `json:"delivery_address"`
	PaymentMethod   string           `json:"payment_method"`
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	if req.ExternalID == "" {
		req.ExternalID = uuid.NewString()
	}

	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: jobs.TypeCreateOrder,
		OrderData: &jobs.OrderData{
			ExternalID:      req.ExternalID,
			UserID:          req.UserID,
			Items:           req.Items,
			DeliveryAddress: req.DeliveryAddress,
			PaymentMethod:   req.PaymentMethod,
		},
		EnqueuedAt: time.Now().UTC(),
	}

	// Best-effort dedupe of double submits before the queue; the worker-side
	// external-id check is the authoritative one.
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, req.ExternalID)
	if ok, err := h.Redis.SetNX(ctx, idemKey, job.ID, redisx.TTLIdempotency).Result(); err == nil && !ok {
		if prev, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && prev != "" {
			writeJSON(w, http.StatusAccepted, map[string]string{
				"job_id":      prev,
				"external_id": req.ExternalID,
			})
			return
		}
	}

	h.enqueue(job)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.ID,
		"external_id": req.ExternalID,
	})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Role") != fulfillment.RoleAdmin {
		writeErr(w, orders.ErrNotAuthorized)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing status"})
		return
	}
	job := jobs.Job{
		ID:         uuid.NewString(),
		Type:       jobs.TypeUpdateStatus,
		OrderID:    chi.URLParam(r, "id"),
		NewStatus:  req.Status,
		EnqueuedAt: time.Now().UTC(),
	}
	h.enqueue(job)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (h *OrdersHandler) processPayment(w http.ResponseWriter, r *http.Request) {
	var req jobs.PaymentData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	job := jobs.Job{
		ID:          uuid.NewString(),
		Type:        jobs.TypeProcessPayment,
		OrderID:     chi.URLParam(r, "id"),
		PaymentData: &req,
		EnqueuedAt:  time.Now().UTC(),
	}
	h.enqueue(job)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	user := r.Header.Get("X-User-Id")
	isAdmin := r.Header.Get("X-Role") == fulfillment.RoleAdmin

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.CancelOrder(ctx, orderID, user, isAdmin); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(orders.StatusCancelled)})
}

func (h *OrdersHandler) rateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req struct {
		Rating int    `json:"rating"`
		Review string `json:"review"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.RateOrder(ctx, orderID, req.Rating, req.Review, r.Header.Get("X-User-Id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rated"})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	b, _ := json.Marshal(orderBody(o))
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// getOrderByExternalID resolves the caller-supplied external id from an async
// create, so the 202 response is enough to poll the order with.
func (h *OrdersHandler) getOrderByExternalID(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Repo.GetByExternalID(ctx, chi.URLParam(r, "externalID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderBody(o))
}

func orderBody(o *orders.Order) map[string]any {
	return map[string]any{
		"order_id":              o.ID,
		"external_id":           o.ExternalID,
		"status":                o.Status,
		"payment_status":        o.PaymentStatus,
		"total_cents":           o.TotalCents,
		"loyalty_points_earned": o.LoyaltyPointsEarned,
	}
}

func (h *OrdersHandler) loyaltyBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	points, err := h.Loyalty.Balance(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"points": points})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.List(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
