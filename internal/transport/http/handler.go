package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/foodalley/orders/internal/domain"
	ordersvc "github.com/foodalley/orders/internal/service/order"
)

// Handler реализует HTTP/JSON API поверх сервиса заказов.
type Handler struct {
	service *ordersvc.Service
	idem    domain.IdempotencyRepository
	logger  *log.Entry
}

// NewHandler конструирует HTTP handler.
func NewHandler(service *ordersvc.Service, idem domain.IdempotencyRepository, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-handler")
	}
	return &Handler{
		service: service,
		idem:    idem,
		logger:  logger,
	}
}

// Routes собирает маршруты API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/stores", func(r chi.Router) {
		r.Post("/", h.createStore)
		r.Get("/", h.listStores)
		r.Route("/{storeID}", func(r chi.Router) {
			r.Get("/", h.getStore)
			r.Patch("/", h.updateStore)
			r.Get("/counter", h.getCounter)
			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.submitOrder)
				r.Get("/", h.listStoreOrders)
				r.Route("/{orderID}", func(r chi.Router) {
					r.Get("/", h.getOrder)
					r.Patch("/status", h.changeStatus)
					r.Get("/history", h.orderHistory)
				})
			})
		})
	})

	r.Get("/users/{userID}/orders", h.listUserOrders)

	return r
}

type optionPayload struct {
	Group string `json:"group,omitempty"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type itemPayload struct {
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name"`
	Price   int64           `json:"price"`
	Qty     int32           `json:"qty"`
	Options []optionPayload `json:"options,omitempty"`
}

type orderPayload struct {
	ID          string        `json:"id"`
	StoreID     string        `json:"store_id"`
	UserID      string        `json:"user_id"`
	Number      string        `json:"order_number"`
	Seq         int64         `json:"seq"`
	Status      string        `json:"status"`
	Items       []itemPayload `json:"items"`
	TotalPrice  int64         `json:"total_price"`
	RequestNote string        `json:"request_note,omitempty"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type storePayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Open      bool      `json:"open"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type submitOrderRequest struct {
	UserID      string        `json:"user_id"`
	Items       []itemPayload `json:"items"`
	TotalPrice  int64         `json:"total_price"`
	RequestNote string        `json:"request_note"`
}

type changeStatusRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
	Reason  string `json:"reason"`
}

type createStoreRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Open    *bool  `json:"open"`
}

type updateStoreRequest struct {
	Open *bool `json:"open"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")

	h.withIdempotency(w, r, func() ([]byte, int, error) {
		var req submitOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, 0, errBadJSON
		}

		order, err := h.service.Submit(ordersvc.SubmitInput{
			StoreID:     storeID,
			UserID:      req.UserID,
			Items:       itemsFromPayload(req.Items),
			TotalPrice:  req.TotalPrice,
			RequestNote: req.RequestNote,
		})
		if err != nil {
			return nil, 0, err
		}

		body, err := json.Marshal(orderToPayload(order))
		if err != nil {
			return nil, 0, err
		}
		return body, http.StatusCreated, nil
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Get(chi.URLParam(r, "storeID"), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderToPayload(order))
}

func (h *Handler) listStoreOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListByStore(chi.URLParam(r, "storeID"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ordersToPayload(orders))
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListByUser(chi.URLParam(r, "userID"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ordersToPayload(orders))
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errBadJSON)
		return
	}

	order, err := h.service.ChangeStatus(
		chi.URLParam(r, "storeID"),
		chi.URLParam(r, "orderID"),
		domain.OrderStatus(req.Status),
		req.Version,
		req.Reason,
	)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderToPayload(order))
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.History(chi.URLParam(r, "storeID"), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	type eventPayload struct {
		Status   string    `json:"status"`
		Reason   string    `json:"reason,omitempty"`
		Occurred time.Time `json:"occurred_at"`
	}
	payload := make([]eventPayload, 0, len(events))
	for _, event := range events {
		payload = append(payload, eventPayload{
			Status:   string(event.Status),
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) getCounter(w http.ResponseWriter, r *http.Request) {
	counter, err := h.service.Counter(chi.URLParam(r, "storeID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"store_id": counter.StoreID,
		"day":      counter.Day,
		"seq":      counter.Seq,
	})
}

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errBadJSON)
		return
	}

	open := true
	if req.Open != nil {
		open = *req.Open
	}

	store, err := h.service.CreateStore(domain.Store{
		ID:      req.ID,
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
		Open:    open,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, storeToPayload(store))
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	store, err := h.service.GetStore(chi.URLParam(r, "storeID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, storeToPayload(store))
}

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.service.ListStores(queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	payload := make([]storePayload, 0, len(stores))
	for _, store := range stores {
		payload = append(payload, storeToPayload(store))
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) updateStore(w http.ResponseWriter, r *http.Request) {
	var req updateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errBadJSON)
		return
	}
	if req.Open == nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "open field is required"})
		return
	}

	store, err := h.service.SetStoreOpen(chi.URLParam(r, "storeID"), *req.Open)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, storeToPayload(store))
}

var errBadJSON = errors.New("invalid json body")

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, body := h.errorPayload(err)
	h.writeRaw(w, status, body)
}

// errorPayload переводит доменную ошибку в HTTP статус и JSON тело.
func (h *Handler) errorPayload(err error) (int, []byte) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadJSON):
		status = http.StatusBadRequest
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreNotFound), errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case domain.IsConflict(err), errors.Is(err, domain.ErrStoreAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}

	body, marshalErr := json.Marshal(errorResponse{Error: err.Error()})
	if marshalErr != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	return status, body
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func itemsFromPayload(items []itemPayload) []domain.OrderItem {
	result := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		options := make([]domain.OptionSelection, 0, len(item.Options))
		for _, opt := range item.Options {
			options = append(options, domain.OptionSelection{
				Group: opt.Group,
				Name:  opt.Name,
				Price: opt.Price,
			})
		}
		result = append(result, domain.OrderItem{
			Name:    item.Name,
			Price:   item.Price,
			Qty:     item.Qty,
			Options: options,
		})
	}
	return result
}

func orderToPayload(order domain.Order) orderPayload {
	items := make([]itemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		options := make([]optionPayload, 0, len(item.Options))
		for _, opt := range item.Options {
			options = append(options, optionPayload{
				Group: opt.Group,
				Name:  opt.Name,
				Price: opt.Price,
			})
		}
		items = append(items, itemPayload{
			ID:      item.ID,
			Name:    item.Name,
			Price:   item.Price,
			Qty:     item.Qty,
			Options: options,
		})
	}

	return orderPayload{
		ID:          order.ID,
		StoreID:     order.StoreID,
		UserID:      order.UserID,
		Number:      order.Number,
		Seq:         order.Seq,
		Status:      string(order.Status),
		Items:       items,
		TotalPrice:  order.TotalPrice,
		RequestNote: order.RequestNote,
		Version:     order.Version,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

func ordersToPayload(orders []domain.Order) []orderPayload {
	payload := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, orderToPayload(order))
	}
	return payload
}

func storeToPayload(store domain.Store) storePayload {
	return storePayload{
		ID:        store.ID,
		Name:      store.Name,
		Phone:     store.Phone,
		Address:   store.Address,
		Open:      store.Open,
		CreatedAt: store.CreatedAt,
		UpdatedAt: store.UpdatedAt,
	}
}
