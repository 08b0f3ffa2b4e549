package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alma-store/apiserver/config"
	"github.com/alma-store/apiserver/internal/epayco"
	"github.com/alma-store/apiserver/internal/store"
	"github.com/alma-store/apiserver/types"
)

type fakeOrderRepo struct {
	orders  map[int64]types.Order
	nextID  int64
	updates int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int64]types.Order), nextID: 1}
}

func (r *fakeOrderRepo) Get(_ context.Context, id int64) (types.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (r *fakeOrderRepo) GetByRef(_ context.Context, ref string) (types.Order, error) {
	for _, order := range r.orders {
		if order.EpaycoRef == ref {
			return order, nil
		}
	}
	return types.Order{}, store.ErrNotFound
}

func (r *fakeOrderRepo) GetByInvoice(_ context.Context, invoice string) (types.Order, error) {
	for _, order := range r.orders {
		if order.EpaycoInvoice == invoice {
			return order, nil
		}
	}
	return types.Order{}, store.ErrNotFound
}

func (r *fakeOrderRepo) List(_ context.Context, filter store.OrderFilter) ([]types.Order, error) {
	orders := make([]types.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *fakeOrderRepo) ListByUser(_ context.Context, userID int64) ([]types.Order, error) {
	orders := make([]types.Order, 0)
	for _, order := range r.orders {
		if order.UserID != nil && *order.UserID == userID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (r *fakeOrderRepo) Create(_ context.Context, order types.Order) (types.Order, error) {
	order.ID = r.nextID
	r.nextID++
	r.orders[order.ID] = order
	return order, nil
}

func (r *fakeOrderRepo) UpdatePayment(_ context.Context, order types.Order) (types.Order, error) {
	stored, ok := r.orders[order.ID]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	stored.Status = order.Status
	stored.EpaycoRef = order.EpaycoRef
	stored.EpaycoInvoice = order.EpaycoInvoice
	r.orders[order.ID] = stored
	r.updates++
	return stored, nil
}

const (
	testCustomerID = "cust-1"
	testPKey       = "validation-key"
)

func signatureClient() *epayco.Client {
	return epayco.NewClient(config.EpaycoConfig{
		PublicKey:  "pub",
		PrivateKey: "priv",
		CustomerID: testCustomerID,
		PKey:       testPKey,
	})
}

func TestCheckoutCreatesPendingOrderAndMergesID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("/payment/session/create", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"sessionId": "sess-1"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	gateway := epayco.NewClient(config.EpaycoConfig{
		PublicKey:  "pub",
		PrivateKey: "priv",
		APIBaseURL: server.URL,
		TestIP:     "201.245.254.45",
	})
	repo := newFakeOrderRepo()
	service := NewOrderService(repo, gateway, nil)

	userID := int64(7)
	session, err := service.Checkout(context.Background(), CheckoutInput{
		UserID:   &userID,
		Items:    []byte(`[{"id":1,"qty":2}]`),
		Subtotal: 5000000,
		Total:    5000000,
		Session:  epayco.SessionRequest{Amount: 50000, Currency: "COP"},
	})
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}

	if session["sessionId"] != "sess-1" {
		t.Fatalf("session payload missing gateway fields: %v", session)
	}
	orderID, ok := session["order_id"].(int64)
	if !ok {
		t.Fatalf("order_id missing from session payload: %v", session)
	}

	order := repo.orders[orderID]
	if order.Status != types.StatusPendingPayment {
		t.Fatalf("status = %q, want pending_payment", order.Status)
	}
	if order.UserID == nil || *order.UserID != 7 {
		t.Fatalf("order not attached to user: %+v", order)
	}
}

func TestCheckoutKeepsPendingOrderOnGatewayFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gateway := epayco.NewClient(config.EpaycoConfig{
		PublicKey:  "pub",
		PrivateKey: "priv",
		APIBaseURL: server.URL,
	})
	repo := newFakeOrderRepo()
	service := NewOrderService(repo, gateway, nil)

	_, err := service.Checkout(context.Background(), CheckoutInput{
		Session: epayco.SessionRequest{Amount: 50000},
	})
	var gatewayErr *epayco.GatewayError
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("want GatewayError, got %v", err)
	}

	// The pending order survives for later reconciliation.
	if len(repo.orders) != 1 {
		t.Fatalf("orders = %d, want the pending order kept", len(repo.orders))
	}
	for _, order := range repo.orders {
		if order.Status != types.StatusPendingPayment {
			t.Fatalf("status = %q, want pending_payment", order.Status)
		}
	}
}

func callbackFor(ref, txn, amount, currency string) CallbackInput {
	return CallbackInput{
		Ref:           ref,
		TransactionID: txn,
		Amount:        amount,
		Currency:      currency,
		Signature:     epayco.Signature(testCustomerID, testPKey, ref, txn, amount, currency),
	}
}

func TestHandleCallbackUpdatesMatchedOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[1] = types.Order{ID: 1, Status: types.StatusPendingPayment, EpaycoRef: "ref-1"}
	service := NewOrderService(repo, signatureClient(), nil)

	input := callbackFor("ref-1", "txn-9", "50000", "COP")
	input.State = "Aceptada"
	if err := service.HandleCallback(context.Background(), input); err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}

	order := repo.orders[1]
	if order.Status != types.StatusPaid {
		t.Fatalf("status = %q, want paid", order.Status)
	}
	if order.EpaycoInvoice != "txn-9" {
		t.Fatalf("invoice = %q, want txn-9", order.EpaycoInvoice)
	}
}

func TestHandleCallbackTamperedSignatureMutatesNothing(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[1] = types.Order{ID: 1, Status: types.StatusPendingPayment, EpaycoRef: "ref-1"}
	service := NewOrderService(repo, signatureClient(), nil)

	input := callbackFor("ref-1", "txn-9", "50000", "COP")
	input.State = "Aceptada"
	input.Signature = "deadbeef"
	if err := service.HandleCallback(context.Background(), input); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}

	if repo.updates != 0 {
		t.Fatalf("order mutated despite bad signature")
	}
	if repo.orders[1].Status != types.StatusPendingPayment {
		t.Fatalf("status changed despite bad signature")
	}

	// Absent signature is just as dead.
	input.Signature = ""
	if err := service.HandleCallback(context.Background(), input); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature for empty signature, got %v", err)
	}
}

func TestHandleCallbackUnmatchedOrderStillAcknowledges(t *testing.T) {
	repo := newFakeOrderRepo()
	service := NewOrderService(repo, signatureClient(), nil)

	input := callbackFor("ref-unknown", "txn-unknown", "50000", "COP")
	input.State = "Aceptada"
	if err := service.HandleCallback(context.Background(), input); err != nil {
		t.Fatalf("correlation miss must still acknowledge: %v", err)
	}
}

func TestHandleCallbackRefTakesPrecedenceOverInvoice(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[1] = types.Order{ID: 1, Status: types.StatusPendingPayment, EpaycoRef: "ref-1"}
	repo.orders[2] = types.Order{ID: 2, Status: types.StatusPendingPayment, EpaycoInvoice: "txn-9"}
	service := NewOrderService(repo, signatureClient(), nil)

	input := callbackFor("ref-1", "txn-9", "50000", "COP")
	input.State = "Rechazada"
	if err := service.HandleCallback(context.Background(), input); err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}

	if repo.orders[1].Status != types.StatusRejected {
		t.Fatalf("ref-matched order untouched: %q", repo.orders[1].Status)
	}
	if repo.orders[2].Status != types.StatusPendingPayment {
		t.Fatalf("invoice-matched order should lose to the ref match")
	}
}

func TestHandleCallbackFallsBackToInvoiceMatch(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[1] = types.Order{ID: 1, Status: types.StatusPendingPayment, EpaycoInvoice: "txn-9"}
	service := NewOrderService(repo, signatureClient(), nil)

	input := callbackFor("ref-unseen", "txn-9", "50000", "COP")
	input.State = "Fallida"
	if err := service.HandleCallback(context.Background(), input); err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if repo.orders[1].Status != types.StatusFailed {
		t.Fatalf("status = %q, want failed", repo.orders[1].Status)
	}
	if repo.orders[1].EpaycoRef != "ref-unseen" {
		t.Fatalf("reference not persisted on invoice match")
	}
}

func TestHandleCallbackUnknownStateDefaultsToPending(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[1] = types.Order{ID: 1, Status: "paid", EpaycoRef: "ref-1"}
	service := NewOrderService(repo, signatureClient(), nil)

	input := callbackFor("ref-1", "txn-9", "50000", "COP")
	input.State = "Desconocida"
	if err := service.HandleCallback(context.Background(), input); err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if repo.orders[1].Status != types.StatusPendingPayment {
		t.Fatalf("unrecognized state should reset to pending_payment, got %q", repo.orders[1].Status)
	}
}

func TestSyncStatusByIDAndRefFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"x_response":   "Aceptada",
				"x_id_invoice": "INV-7",
			},
		})
	}))
	defer server.Close()

	gateway := epayco.NewClient(config.EpaycoConfig{ValidationBaseURL: server.URL})
	repo := newFakeOrderRepo()
	repo.orders[1] = types.Order{ID: 1, Status: types.StatusPendingPayment, EpaycoRef: "ref-1"}
	service := NewOrderService(repo, gateway, nil)

	// Resolve by id, fall back to the stored reference.
	updated, err := service.SyncStatus(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("SyncStatus failed: %v", err)
	}
	if updated.Status != types.StatusPaid {
		t.Fatalf("status = %q, want paid", updated.Status)
	}
	if updated.EpaycoInvoice != "INV-7" {
		t.Fatalf("invoice = %q, want INV-7", updated.EpaycoInvoice)
	}

	// Resolve by reference alone.
	if _, err := service.SyncStatus(context.Background(), 0, "ref-1"); err != nil {
		t.Fatalf("SyncStatus by ref failed: %v", err)
	}
}

func TestSyncStatusWithoutReference(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[1] = types.Order{ID: 1, Status: types.StatusPendingPayment}
	service := NewOrderService(repo, signatureClient(), nil)

	if _, err := service.SyncStatus(context.Background(), 1, ""); !errors.Is(err, ErrMissingReference) {
		t.Fatalf("want ErrMissingReference, got %v", err)
	}
	if _, err := service.SyncStatus(context.Background(), 99, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown order, got %v", err)
	}
}

func TestUpdateRefAndAdminStatus(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[1] = types.Order{ID: 1, Status: types.StatusPendingPayment}
	service := NewOrderService(repo, signatureClient(), nil)
	ctx := context.Background()

	order, err := service.UpdateRef(ctx, 1, "ref-55", "inv-55")
	if err != nil {
		t.Fatalf("UpdateRef failed: %v", err)
	}
	if order.EpaycoRef != "ref-55" || order.EpaycoInvoice != "inv-55" {
		t.Fatalf("gateway fields not recorded: %+v", order)
	}

	// Admin statuses are stored as-is, outside the reconciliation enum.
	order, err = service.UpdateStatus(ctx, 1, "shipped")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if order.Status != "shipped" {
		t.Fatalf("status = %q, want shipped", order.Status)
	}
}
