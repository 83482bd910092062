package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/auditkit/pkg/auditing"
	"github.com/platinummonkey/auditkit/pkg/httputil"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderShipped  = errors.New("order already shipped")
)

const statusShipped = "shipped"

// OrderValidationError names the input field that was rejected
type OrderValidationError struct {
	Field  string
	Reason string
}

func (e *OrderValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidOrder, e.Field, e.Reason)
}

func (e *OrderValidationError) Unwrap() error { return ErrInvalidOrder }

// Address is a shipping address, compared by value
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	Country string `json:"country"`
}

func (Address) ValueObject() {}

// Order is the audited demo entity
type Order struct {
	ID              string    `json:"id"`
	Customer        string    `json:"customer"`
	Product         string    `json:"product"`
	Quantity        int       `json:"quantity"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty" audited:"false"`
	ShippingAddress *Address  `json:"shipping_address,omitempty"`
	CreationTime    time.Time `json:"creation_time"`
	CreatorID       string    `json:"creator_id,omitempty"`
}

func (Order) AuditMarker() auditing.Marker { return auditing.Audited }

func (o *Order) clone() *Order {
	c := *o
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		c.ShippingAddress = &addr
	}
	return &c
}

// PlaceOrderInput is the body of POST /orders
type PlaceOrderInput struct {
	Customer        string   `json:"customer"`
	Product         string   `json:"product"`
	Quantity        int      `json:"quantity"`
	Notes           string   `json:"notes,omitempty"`
	ShippingAddress *Address `json:"shipping_address,omitempty"`
}

// UpdateOrderInput is the body of PATCH /orders/{id}. Nil fields are left
// unchanged.
type UpdateOrderInput struct {
	Quantity        *int     `json:"quantity,omitempty"`
	Status          *string  `json:"status,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
	ShippingAddress *Address `json:"shipping_address,omitempty"`
}

// OrderService is an in-memory order repository whose mutations are audited
type OrderService struct {
	mu      sync.RWMutex
	orders  map[string]*Order
	manager *auditing.Manager
	name    string
	clock   func() time.Time
}

// NewOrderService creates an empty order service
func NewOrderService(manager *auditing.Manager) *OrderService {
	return &OrderService{
		orders:  make(map[string]*Order),
		manager: manager,
		name:    orderServiceName,
		clock:   time.Now,
	}
}

var orderServiceName = auditing.TypeNameOf(&OrderService{})

// newRegistry declares the audit metadata of the demo domain
func newRegistry() *auditing.Registry {
	return auditing.NewRegistry().
		Scan(Order{}, Address{}).
		EnableAuditing(orderServiceName)
}

func (s *OrderService) invocation(method string, args ...auditing.Argument) auditing.Invocation {
	return auditing.Invocation{Service: s.name, Method: method, Arguments: args}
}

// PlaceOrder creates an order
func (s *OrderService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*Order, error) {
	inv := s.invocation("PlaceOrder", auditing.Argument{Name: "input", Value: input})
	return auditing.Call(ctx, s.manager, inv, func(ctx context.Context) (*Order, error) {
		switch {
		case input.Customer == "":
			return nil, &OrderValidationError{Field: "customer", Reason: "is required"}
		case input.Product == "":
			return nil, &OrderValidationError{Field: "product", Reason: "is required"}
		case input.Quantity <= 0:
			return nil, &OrderValidationError{Field: "quantity", Reason: "must be positive"}
		}

		order := &Order{
			ID:              uuid.NewString(),
			Customer:        input.Customer,
			Product:         input.Product,
			Quantity:        input.Quantity,
			Status:          "placed",
			Notes:           input.Notes,
			ShippingAddress: input.ShippingAddress,
			CreationTime:    s.clock().UTC(),
		}

		s.mu.Lock()
		s.orders[order.ID] = order.clone()
		s.mu.Unlock()

		if err := s.record(ctx, auditing.EntityChangeCreated, order.ID, nil, order); err != nil {
			return nil, err
		}
		return order, nil
	})
}

// GetOrder returns an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id string) (*Order, error) {
	inv := s.invocation("GetOrder", auditing.Argument{Name: "id", Value: id})
	return auditing.Call(ctx, s.manager, inv, func(ctx context.Context) (*Order, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		order, ok := s.orders[id]
		if !ok {
			return nil, ErrOrderNotFound
		}
		return order.clone(), nil
	})
}

// ListOrders returns all orders sorted by creation time
func (s *OrderService) ListOrders(ctx context.Context) ([]*Order, error) {
	return auditing.Call(ctx, s.manager, s.invocation("FindOrders"), func(ctx context.Context) ([]*Order, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		orders := make([]*Order, 0, len(s.orders))
		for _, o := range s.orders {
			orders = append(orders, o.clone())
		}
		sort.Slice(orders, func(i, j int) bool {
			return orders[i].CreationTime.Before(orders[j].CreationTime)
		})
		return orders, nil
	})
}

// UpdateOrder applies a partial update
func (s *OrderService) UpdateOrder(ctx context.Context, id string, input UpdateOrderInput) (*Order, error) {
	inv := s.invocation("UpdateOrder",
		auditing.Argument{Name: "id", Value: id},
		auditing.Argument{Name: "input", Value: input},
	)
	return auditing.Call(ctx, s.manager, inv, func(ctx context.Context) (*Order, error) {
		if input.Quantity != nil && *input.Quantity <= 0 {
			return nil, &OrderValidationError{Field: "quantity", Reason: "must be positive"}
		}

		s.mu.Lock()
		current, ok := s.orders[id]
		if !ok {
			s.mu.Unlock()
			return nil, ErrOrderNotFound
		}
		if current.Status == statusShipped {
			s.mu.Unlock()
			return nil, ErrOrderShipped
		}
		before := current.clone()
		var opts []auditing.TrackOption
		if input.Quantity != nil {
			current.Quantity = *input.Quantity
		}
		if input.Status != nil {
			current.Status = *input.Status
		}
		if input.Notes != nil {
			current.Notes = *input.Notes
		}
		if input.ShippingAddress != nil {
			addr := *input.ShippingAddress
			current.ShippingAddress = &addr
			opts = append(opts, auditing.ReplacedFields("ShippingAddress"))
		}
		after := current.clone()
		result := current.clone()
		s.mu.Unlock()

		if err := s.record(ctx, auditing.EntityChangeUpdated, id, before, after, opts...); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// CancelOrder removes an order
func (s *OrderService) CancelOrder(ctx context.Context, id string) error {
	inv := s.invocation("CancelOrder", auditing.Argument{Name: "id", Value: id})
	return s.manager.Intercept(ctx, inv, func(ctx context.Context) error {
		s.mu.Lock()
		order, ok := s.orders[id]
		switch {
		case !ok:
			s.mu.Unlock()
			return ErrOrderNotFound
		case order.Status == statusShipped:
			s.mu.Unlock()
			return ErrOrderShipped
		}
		delete(s.orders, id)
		s.mu.Unlock()

		return s.record(ctx, auditing.EntityChangeDeleted, id, order, nil)
	})
}

// record diffs one entity into the current audit scope. Without a scope the
// change is not audited.
func (s *OrderService) record(ctx context.Context, changeType auditing.EntityChangeType, id string, before, after *Order, opts ...auditing.TrackOption) error {
	var original, current interface{}
	if before != nil {
		original = before
	}
	if after != nil {
		current = after
	}

	entity, err := auditing.Track(changeType, id, original, current, opts...)
	if err != nil {
		return fmt.Errorf("failed to track order change: %w", err)
	}
	entity.ChangeTime = s.clock().UTC()

	if _, err := s.manager.RecordEntityChanges(ctx, []auditing.TrackedEntity{entity}); err != nil && !errors.Is(err, auditing.ErrNoActiveScope) {
		return err
	}
	return nil
}

// orderHandlers exposes OrderService over HTTP
type orderHandlers struct {
	orders *OrderService
}

func registerOrderRoutes(router *mux.Router, orders *OrderService) {
	h := &orderHandlers{orders: orders}
	router.HandleFunc("/orders", h.list).Methods(http.MethodGet)
	router.HandleFunc("/orders", h.create).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}", h.update).Methods(http.MethodPatch)
	router.HandleFunc("/orders/{id}", h.cancel).Methods(http.MethodDelete)
}

func (h *orderHandlers) list(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}
	orders, err := h.orders.ListOrders(r.Context())
	if err != nil {
		writeOrderError(w, err)
		return
	}
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	_ = httputil.WriteSuccess(w, orders)
}

func (h *orderHandlers) create(w http.ResponseWriter, r *http.Request) {
	var input PlaceOrderInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	order, err := h.orders.PlaceOrder(r.Context(), input)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, order)
}

func (h *orderHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, order)
}

func (h *orderHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var input UpdateOrderInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	order, err := h.orders.UpdateOrder(r.Context(), id, input)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, order)
}

func (h *orderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.orders.CancelOrder(r.Context(), id); err != nil {
		writeOrderError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func writeOrderError(w http.ResponseWriter, err error) {
	var invalid *OrderValidationError
	switch {
	case errors.Is(err, ErrOrderNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrOrderShipped):
		httputil.WriteConflict(w, err.Error())
	case errors.As(err, &invalid):
		httputil.WriteDetailedError(w, http.StatusBadRequest, err, map[string]string{"field": invalid.Field})
	case errors.Is(err, ErrInvalidOrder):
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
