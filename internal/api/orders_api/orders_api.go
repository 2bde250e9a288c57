package orders_api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/PulseVote/OrderWatch/internal/models"
	"github.com/PulseVote/OrderWatch/internal/services/orders"
	"github.com/go-chi/chi/v5"
)

type OrdersAPI struct {
	svc *orders.Service
}

func New(svc *orders.Service) *OrdersAPI {
	return &OrdersAPI{svc: svc}
}

func (a *OrdersAPI) Register(r chi.Router) {
	r.Post("/v1/orders", a.createOrder)
	r.Get("/v1/orders", a.listOrders)
	r.Get("/v1/orders/{orderID}", a.getOrder)
	r.Post("/v1/orders/{orderID}/check", a.checkOrder)
}

type orderResponse struct {
	ID                uint64     `json:"id"`
	UserID            uint64     `json:"userId"`
	Service           string     `json:"service"`
	Link              string     `json:"link"`
	Quantity          int64      `json:"quantity"`
	ExternalReference string     `json:"externalReference,omitempty"`
	Status            string     `json:"status"`
	DeliveredCount    int64      `json:"deliveredCount"`
	LastStatusCheck   *time.Time `json:"lastStatusCheck,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type createOrderRequest struct {
	UserID   uint64 `json:"userId"`
	Service  string `json:"service"`
	Link     string `json:"link"`
	Quantity int64  `json:"quantity"`
}

func (a *OrdersAPI) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := a.svc.SubmitOrder(r.Context(), models.OrderCreateInput{
		UserID:   req.UserID,
		Service:  req.Service,
		Link:     req.Link,
		Quantity: req.Quantity,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (a *OrdersAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := a.svc.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (a *OrdersAPI) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		writeError(w, http.StatusBadRequest, "user_id query param is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	os, err := a.svc.ListOrders(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]orderResponse, 0, len(os))
	for _, o := range os {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (a *OrdersAPI) checkOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := a.svc.CheckOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func toOrderResponse(o *models.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Service:         o.Service,
		Link:            o.Link,
		Quantity:        o.Quantity,
		Status:          o.Status,
		DeliveredCount:  o.DeliveredCount,
		LastStatusCheck: o.LastStatusCheck,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.ExternalReference != nil {
		resp.ExternalReference = *o.ExternalReference
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
