package services

import (
	"context"
	"errors"
	"log"

	"github.com/alma-store/apiserver/internal/epayco"
	"github.com/alma-store/apiserver/internal/events"
	"github.com/alma-store/apiserver/internal/store"
	"github.com/alma-store/apiserver/types"
)

// ErrInvalidSignature rejects a webhook whose signature is missing or does
// not match the recomputed digest. Nothing is mutated on this error.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrMissingReference is returned by status sync when neither the request
// nor the order carries a gateway reference to query.
var ErrMissingReference = errors.New("reference not available")

// OrderRepository defines persistence operations for orders.
type OrderRepository interface {
	Get(ctx context.Context, id int64) (types.Order, error)
	GetByRef(ctx context.Context, ref string) (types.Order, error)
	GetByInvoice(ctx context.Context, invoice string) (types.Order, error)
	List(ctx context.Context, filter store.OrderFilter) ([]types.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]types.Order, error)
	Create(ctx context.Context, order types.Order) (types.Order, error)
	UpdatePayment(ctx context.Context, order types.Order) (types.Order, error)
}

// OrderService encapsulates checkout and payment reconciliation: creating
// pending orders, obtaining gateway sessions, and translating gateway
// transaction states into order statuses from webhook and poll inputs.
type OrderService struct {
	orders    OrderRepository
	gateway   *epayco.Client
	publisher *events.Publisher
}

func NewOrderService(orders OrderRepository, gateway *epayco.Client, publisher *events.Publisher) *OrderService {
	return &OrderService{orders: orders, gateway: gateway, publisher: publisher}
}

// CheckoutInput carries the order fields captured at checkout alongside the
// session request forwarded to the gateway.
type CheckoutInput struct {
	UserID   *int64
	Items    []byte
	Subtotal int64
	Taxes    int64
	Total    int64
	Session  epayco.SessionRequest
}

// Checkout persists a pending order, then asks the gateway for a checkout
// session. Gateway failures propagate untouched; the pending order remains
// for later reconciliation. On success the created order id is merged into
// the session payload so the frontend can correlate the gateway reference
// back to the order.
func (s *OrderService) Checkout(ctx context.Context, input CheckoutInput) (map[string]any, error) {
	order, err := s.orders.Create(ctx, types.Order{
		UserID:   input.UserID,
		Items:    input.Items,
		Subtotal: input.Subtotal,
		Taxes:    input.Taxes,
		Total:    input.Total,
		Status:   types.StatusPendingPayment,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSession(ctx, input.Session)
	if err != nil {
		return nil, err
	}

	session["order_id"] = order.ID
	return session, nil
}

// CallbackInput is the webhook payload after field-name normalization
// (the gateway sends both x_-prefixed and bare names).
type CallbackInput struct {
	Ref           string
	TransactionID string
	Amount        string
	Currency      string
	Signature     string
	State         string
}

// HandleCallback processes a server-to-server confirmation. Signature
// verification is the hard gate: on mismatch nothing is mutated and
// ErrInvalidSignature is returned. Past the gate the callback is always
// acknowledged, even when no order matches, so the gateway does not retry
// delivery over a local correlation miss.
func (s *OrderService) HandleCallback(ctx context.Context, input CallbackInput) error {
	computed, ok, err := s.gateway.VerifySignature(input.Ref, input.TransactionID, input.Amount, input.Currency, input.Signature)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("orders: callback signature mismatch: computed=%s received=%s ref=%s", computed, input.Signature, input.Ref)
		return ErrInvalidSignature
	}

	log.Printf("orders: callback received: ref=%s transaction=%s state=%s", input.Ref, input.TransactionID, input.State)

	order, found := s.findByRefOrInvoice(ctx, input.Ref, input.TransactionID)
	if !found {
		log.Printf("orders: callback matched no order: ref=%s transaction=%s", input.Ref, input.TransactionID)
		return nil
	}

	prev := order.Status
	status := types.StatusPendingPayment
	if mapped, ok := epayco.MapState(input.State); ok {
		status = mapped
	}
	order.Status = status
	if input.TransactionID != "" {
		order.EpaycoInvoice = input.TransactionID
	}
	if input.Ref != "" {
		order.EpaycoRef = input.Ref
	}

	updated, err := s.orders.UpdatePayment(ctx, order)
	if err != nil {
		log.Printf("orders: callback update failed for order %d: %v", order.ID, err)
		return nil
	}
	if updated.Status != prev {
		s.publisher.PublishOrderStatus(ctx, events.OrderEvent{
			OrderID:    updated.ID,
			Status:     updated.Status,
			PrevStatus: prev,
			EpaycoRef:  updated.EpaycoRef,
			Source:     "webhook",
		})
	}
	return nil
}

// SyncStatus reconciles an order against the gateway's validation endpoint.
// The order resolves by id first, then by reference; the queried reference
// comes from the request or falls back to the order's stored one.
func (s *OrderService) SyncStatus(ctx context.Context, orderID int64, ref string) (types.Order, error) {
	var order types.Order
	var err error
	found := false
	if orderID != 0 {
		order, err = s.orders.Get(ctx, orderID)
		if err == nil {
			found = true
		} else if !errors.Is(err, store.ErrNotFound) {
			return types.Order{}, err
		}
	}
	if !found && ref != "" {
		order, err = s.orders.GetByRef(ctx, ref)
		if err == nil {
			found = true
		} else if !errors.Is(err, store.ErrNotFound) {
			return types.Order{}, err
		}
	}
	if !found {
		return types.Order{}, store.ErrNotFound
	}

	if ref == "" {
		ref = order.EpaycoRef
	}
	if ref == "" {
		return types.Order{}, ErrMissingReference
	}

	txn, err := s.gateway.ValidateReference(ctx, ref)
	if err != nil {
		return types.Order{}, err
	}

	prev := order.Status
	if status, ok := epayco.MapState(txn.State); ok {
		order.Status = status
	}
	if txn.Invoice != "" {
		order.EpaycoInvoice = txn.Invoice
	}
	order.EpaycoRef = ref

	updated, err := s.orders.UpdatePayment(ctx, order)
	if err != nil {
		return types.Order{}, err
	}
	if updated.Status != prev {
		s.publisher.PublishOrderStatus(ctx, events.OrderEvent{
			OrderID:    updated.ID,
			Status:     updated.Status,
			PrevStatus: prev,
			EpaycoRef:  updated.EpaycoRef,
			Source:     "sync",
		})
	}
	return updated, nil
}

// UpdateRef attaches the gateway reference (and optionally the invoice id)
// reported by the frontend after session creation.
func (s *OrderService) UpdateRef(ctx context.Context, orderID int64, ref, invoice string) (types.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return types.Order{}, err
	}
	order.EpaycoRef = ref
	if invoice != "" {
		order.EpaycoInvoice = invoice
	}
	return s.orders.UpdatePayment(ctx, order)
}

// UpdateStatus sets an admin-assigned status. The value is stored as-is;
// admin statuses are not validated against the reconciliation enum.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status string) (types.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return types.Order{}, err
	}
	prev := order.Status
	order.Status = status
	updated, err := s.orders.UpdatePayment(ctx, order)
	if err != nil {
		return types.Order{}, err
	}
	if updated.Status != prev {
		s.publisher.PublishOrderStatus(ctx, events.OrderEvent{
			OrderID:    updated.ID,
			Status:     updated.Status,
			PrevStatus: prev,
			EpaycoRef:  updated.EpaycoRef,
			Source:     "admin",
		})
	}
	return updated, nil
}

func (s *OrderService) Get(ctx context.Context, id int64) (types.Order, error) {
	return s.orders.Get(ctx, id)
}

func (s *OrderService) List(ctx context.Context, filter store.OrderFilter) ([]types.Order, error) {
	return s.orders.List(ctx, filter)
}

func (s *OrderService) ListByUser(ctx context.Context, userID int64) ([]types.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// findByRefOrInvoice resolves an order for reconciliation: reference match
// first, invoice/transaction id as the fallback.
func (s *OrderService) findByRefOrInvoice(ctx context.Context, ref, transactionID string) (types.Order, bool) {
	if ref != "" {
		order, err := s.orders.GetByRef(ctx, ref)
		if err == nil {
			return order, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("orders: lookup by ref %q failed: %v", ref, err)
			return types.Order{}, false
		}
	}
	if transactionID != "" {
		order, err := s.orders.GetByInvoice(ctx, transactionID)
		if err == nil {
			return order, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("orders: lookup by invoice %q failed: %v", transactionID, err)
		}
	}
	return types.Order{}, false
}
