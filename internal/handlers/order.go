package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alma-store/apiserver/internal/epayco"
	"github.com/alma-store/apiserver/internal/services"
	"github.com/alma-store/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
)

// OrderHandler provides checkout, the gateway webhook, reconciliation and
// admin order management.
type OrderHandler struct {
	orderService *services.OrderService
}

func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// OrderRouter registers order routes on the given router.
func OrderRouter(r chi.Router, orderService *services.OrderService, userService *services.UserService) {
	handler := NewOrderHandler(orderService)
	auth := RequireAuth(userService)
	admin := RequireAdmin(userService)

	r.With(OptionalAuth(userService)).Post("/orders/checkout", handler.Checkout)
	r.Post("/orders/epayco/callback", handler.Callback)
	r.Post("/orders/sync-status", handler.SyncStatus)
	r.Post("/orders/{orderID}/epayco/ref", handler.UpdateRef)

	r.With(admin).Get("/orders", handler.List)
	r.With(admin).Patch("/orders/{orderID}", handler.UpdateStatus)
	r.With(auth).Get("/orders/{orderID}", handler.Get)
	r.With(auth).Get("/my/orders", handler.MyOrders)
}

// Checkout creates a pending order and a gateway checkout session in one
// call. Guests are allowed; the order is attached to the user only when a
// live token was presented.
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	body, err := decodeLooseJSON(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	session, amounts, items, err := buildSessionRequest(r, body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	input := services.CheckoutInput{
		Items:    items,
		Subtotal: amounts.Subtotal,
		Taxes:    amounts.Taxes,
		Total:    amounts.Total,
		Session:  session,
	}
	if user, ok := userFromContext(r.Context()); ok {
		userID := user.ID
		input.UserID = &userID
	}

	payload, err := h.orderService.Checkout(r.Context(), input)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// Callback is the gateway's server-to-server confirmation endpoint. The
// gateway expects a plain-text acknowledgment and retries delivery on
// anything but success, so past signature validation the answer is always
// OK.
func (h *OrderHandler) Callback(w http.ResponseWriter, r *http.Request) {
	input, err := parseCallback(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.orderService.HandleCallback(r.Context(), input); err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Invalid signature"))
			return
		}
		writeGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type SyncStatusRequest struct {
	OrderID   int64  `json:"order_id"`
	Ref       string `json:"ref"`
	RefPayco  string `json:"ref_payco"`
	XRefPayco string `json:"x_ref_payco"`
}

type SyncStatusResponse struct {
	Success bool `json:"success"`
	Order   any  `json:"order"`
}

// SyncStatus reconciles an order against the gateway on demand, by order id
// or by gateway reference.
func (h *OrderHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	var req SyncStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ref := strings.TrimSpace(firstString(req.Ref, req.RefPayco, req.XRefPayco))
	if req.OrderID == 0 && ref == "" {
		writeError(w, http.StatusUnprocessableEntity, "order_id or ref is required")
		return
	}

	order, err := h.orderService.SyncStatus(r.Context(), req.OrderID, ref)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, services.ErrMissingReference):
			writeError(w, http.StatusUnprocessableEntity, "no gateway reference available for this order")
		default:
			writeGatewayError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, SyncStatusResponse{Success: true, Order: order})
}

type UpdateRefRequest struct {
	Ref     string `json:"ref"`
	Invoice string `json:"invoice"`
}

// UpdateRef records the gateway reference the frontend received at session
// creation, so later webhooks and polls can correlate back to the order.
func (h *OrderHandler) UpdateRef(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Ref = strings.TrimSpace(req.Ref)
	if req.Ref == "" {
		writeError(w, http.StatusUnprocessableEntity, "ref is required")
		return
	}

	order, err := h.orderService.UpdateRef(r.Context(), id, req.Ref, strings.TrimSpace(req.Invoice))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "order_id": order.ID})
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		writeError(w, http.StatusUnprocessableEntity, "status is required")
		return
	}

	order, err := h.orderService.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// List returns all orders, optionally narrowed by status and created_at
// bounds (`?status=`, `?from=`, `?to=`, dates as YYYY-MM-DD).
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.OrderFilter{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		filter.From = from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		// Inclusive upper bound on the whole day.
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}

	orders, err := h.orderService.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// Get returns a single order; non-admin users can only see their own.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orderService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch order")
		return
	}

	user, ok := userFromContext(r.Context())
	if !ok || (!user.IsAdmin && (order.UserID == nil || *order.UserID != user.ID)) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) MyOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.orderService.ListByUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// orderAmounts are the monetary fields persisted on the order, in minor
// currency units.
type orderAmounts struct {
	Subtotal int64
	Taxes    int64
	Total    int64
}

// decodeLooseJSON decodes a body whose shape is partly frontend-defined,
// preserving numeric precision so amounts survive as sent.
func decodeLooseJSON(r *http.Request) (map[string]any, error) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	body := make(map[string]any)
	if err := decoder.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// sessionTypedFields are consumed into the typed SessionRequest; everything
// else in the body is forwarded verbatim as Extra.
var sessionTypedFields = map[string]struct{}{
	"amount": {}, "total": {}, "total_price": {}, "subtotal": {},
	"taxes": {}, "items": {}, "currency": {}, "name": {},
	"description": {}, "lang": {}, "country": {}, "test": {},
	"response": {}, "confirmation": {},
}

// buildSessionRequest extracts the gateway session fields from a decoded
// checkout body. The amount is taken from the first present of
// amount/total/total_price/subtotal; numbers and numeric strings are both
// accepted.
func buildSessionRequest(r *http.Request, body map[string]any) (epayco.SessionRequest, orderAmounts, []byte, error) {
	amount, ok := resolveAmount(body)
	if !ok {
		return epayco.SessionRequest{}, orderAmounts{}, nil, errors.New("amount is required and must be numeric")
	}

	session := epayco.SessionRequest{
		Amount:          amount,
		Currency:        strings.TrimSpace(stringValue(body["currency"])),
		Name:            strings.TrimSpace(stringValue(body["name"])),
		Description:     strings.TrimSpace(stringValue(body["description"])),
		Lang:            strings.TrimSpace(stringValue(body["lang"])),
		Country:         strings.TrimSpace(stringValue(body["country"])),
		IP:              clientIP(r),
		ResponseURL:     stringValue(body["response"]),
		ConfirmationURL: stringValue(body["confirmation"]),
	}
	if session.Currency == "" {
		session.Currency = "COP"
	}
	if flag, ok := body["test"].(bool); ok {
		session.Test = &flag
	}

	extra := make(map[string]any)
	for key, value := range body {
		if _, typed := sessionTypedFields[key]; typed {
			continue
		}
		extra[key] = value
	}
	if len(extra) > 0 {
		session.Extra = extra
	}

	amounts := orderAmounts{
		Subtotal: toMinorUnits(amount),
		Total:    toMinorUnits(amount),
	}
	if subtotal, ok := toFloat(body["subtotal"]); ok {
		amounts.Subtotal = toMinorUnits(subtotal)
	}
	if taxes, ok := toFloat(body["taxes"]); ok {
		amounts.Taxes = toMinorUnits(taxes)
	}
	if total, ok := toFloat(body["total"]); ok {
		amounts.Total = toMinorUnits(total)
	}

	var items []byte
	if raw, present := body["items"]; present {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return epayco.SessionRequest{}, orderAmounts{}, nil, errors.New("invalid items")
		}
		items = encoded
	}

	return session, amounts, items, nil
}

// resolveAmount walks the accepted synonym fields in fallback order.
func resolveAmount(body map[string]any) (float64, bool) {
	for _, key := range []string{"amount", "total", "total_price", "subtotal"} {
		value, present := body[key]
		if !present {
			continue
		}
		if amount, ok := toFloat(value); ok {
			return amount, true
		}
	}
	return 0, false
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// parseCallback normalizes the webhook payload; the gateway sends form
// fields, some deployments a JSON body, and field names arrive both
// x_-prefixed and bare.
func parseCallback(r *http.Request) (services.CallbackInput, error) {
	fields := make(map[string]string)
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return services.CallbackInput{}, err
		}
		for key, value := range body {
			switch typed := value.(type) {
			case string:
				fields[key] = typed
			case float64:
				fields[key] = strconv.FormatFloat(typed, 'f', -1, 64)
			}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return services.CallbackInput{}, err
		}
		for key := range r.Form {
			fields[key] = r.Form.Get(key)
		}
	}

	return services.CallbackInput{
		Ref:           firstString(fields["x_ref_payco"], fields["ref_payco"]),
		TransactionID: firstString(fields["x_transaction_id"], fields["transaction_id"]),
		Amount:        firstString(fields["x_amount"], fields["amount"]),
		Currency:      firstString(fields["x_currency_code"], fields["currency"]),
		Signature:     fields["x_signature"],
		State:         firstString(fields["x_response"], fields["x_transaction_state"], fields["transaction_state"]),
	}, nil
}

func firstString(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// writeGatewayError maps gateway adapter errors onto the HTTP surface:
// validation failures are the caller's fault, upstream failures are relayed
// as a bad gateway with the upstream body attached, and missing credentials
// are a server configuration error.
func writeGatewayError(w http.ResponseWriter, err error) {
	var validation *epayco.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"message": validation.Message,
			"code":    validation.Code,
		})
		return
	}
	var gateway *epayco.GatewayError
	if errors.As(err, &gateway) {
		payload := map[string]any{
			"success": false,
			"message": gateway.Message,
		}
		if len(gateway.Body) > 0 {
			payload["details"] = gateway.Body
		}
		writeJSON(w, http.StatusBadGateway, payload)
		return
	}
	if errors.Is(err, epayco.ErrNotConfigured) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
