package epayco

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alma-store/apiserver/config"
)

// fakeGateway stands in for the Apify login and session endpoints and
// records the last session payload it received.
type fakeGateway struct {
	server      *httptest.Server
	lastPayload map[string]any
	loginStatus int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	fake := &fakeGateway{loginStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if fake.loginStatus != http.StatusOK {
			w.WriteHeader(fake.loginStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "test-token"})
	})
	mux.HandleFunc("/payment/session/create", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		payload := make(map[string]any)
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fake.lastPayload = payload
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"sessionId": "sess-123"},
		})
	})
	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)
	return fake
}

func newTestClient(fake *fakeGateway, cfg config.EpaycoConfig) *Client {
	if cfg.PublicKey == "" {
		cfg.PublicKey = "pub"
	}
	if cfg.PrivateKey == "" {
		cfg.PrivateKey = "priv"
	}
	if cfg.TestIP == "" {
		cfg.TestIP = "201.245.254.45"
	}
	cfg.APIBaseURL = fake.server.URL
	cfg.ValidationBaseURL = fake.server.URL
	return NewClient(cfg)
}

func TestCreateSessionReturnsGatewayResponse(t *testing.T) {
	fake := newFakeGateway(t)
	client := newTestClient(fake, config.EpaycoConfig{StoreName: "Alma Store"})

	session, err := client.CreateSession(context.Background(), SessionRequest{
		Amount:   150000,
		Currency: "COP",
		IP:       "190.1.2.3",
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session["success"] != true {
		t.Fatalf("unexpected session response: %v", session)
	}

	if got := fake.lastPayload["amount"]; got != float64(150000) {
		t.Fatalf("amount = %v, want 150000", got)
	}
	if got := fake.lastPayload["name"]; got != "Alma Store" {
		t.Fatalf("name = %v, want configured store name", got)
	}
	if got := fake.lastPayload["checkout_version"]; got != "2" {
		t.Fatalf("checkout_version = %v, want 2", got)
	}
	if got := fake.lastPayload["ip"]; got != "190.1.2.3" {
		t.Fatalf("ip = %v, want the public client address", got)
	}
}

func TestCreateSessionNormalizesMinorUnitAmounts(t *testing.T) {
	fake := newFakeGateway(t)
	client := newTestClient(fake, config.EpaycoConfig{})

	// Amounts above 1,000,000 are assumed minor units and divided by 100.
	if _, err := client.CreateSession(context.Background(), SessionRequest{Amount: 150000000}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if got := fake.lastPayload["amount"]; got != float64(1500000) {
		t.Fatalf("amount = %v, want 1500000", got)
	}

	// At the threshold the amount passes through unchanged.
	if _, err := client.CreateSession(context.Background(), SessionRequest{Amount: 1000000}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if got := fake.lastPayload["amount"]; got != float64(1000000) {
		t.Fatalf("amount = %v, want 1000000", got)
	}
}

func TestCreateSessionAmountBounds(t *testing.T) {
	fake := newFakeGateway(t)
	client := newTestClient(fake, config.EpaycoConfig{MinAmount: 10000, MaxAmount: 500000})

	_, err := client.CreateSession(context.Background(), SessionRequest{Amount: 5000})
	var validation *ValidationError
	if !errors.As(err, &validation) || validation.Code != CodeAmountBelowMin {
		t.Fatalf("want %s error, got %v", CodeAmountBelowMin, err)
	}

	_, err = client.CreateSession(context.Background(), SessionRequest{Amount: 600000})
	if !errors.As(err, &validation) || validation.Code != CodeAmountAboveMax {
		t.Fatalf("want %s error, got %v", CodeAmountAboveMax, err)
	}

	if _, err := client.CreateSession(context.Background(), SessionRequest{Amount: 10000}); err != nil {
		t.Fatalf("amount at the minimum should pass: %v", err)
	}
}

func TestCreateSessionURLValidation(t *testing.T) {
	cases := []struct {
		name  string
		url   string
		valid bool
	}{
		{"public https", "https://shop.example.com/cb", true},
		{"http localhost", "http://localhost/cb", false},
		{"https private ip", "https://192.168.1.5/cb", false},
		{"https loopback", "https://127.0.0.1/cb", false},
		{"quoted public https", "\"https://shop.example.com/cb\"", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeGateway(t)
			client := newTestClient(fake, config.EpaycoConfig{})

			_, err := client.CreateSession(context.Background(), SessionRequest{
				Amount:      10000,
				ResponseURL: tc.url,
			})
			if tc.valid {
				if err != nil {
					t.Fatalf("URL %q should be accepted: %v", tc.url, err)
				}
				if got := fake.lastPayload["response"]; got != "https://shop.example.com/cb" {
					t.Fatalf("response = %v, want cleaned URL", got)
				}
				return
			}
			var validation *ValidationError
			if !errors.As(err, &validation) || validation.Code != CodeInvalidURL {
				t.Fatalf("URL %q should be rejected with %s, got %v", tc.url, CodeInvalidURL, err)
			}
		})
	}
}

func TestCreateSessionSubstitutesPrivateIP(t *testing.T) {
	fake := newFakeGateway(t)
	client := newTestClient(fake, config.EpaycoConfig{TestIP: "201.245.254.45"})

	for _, address := range []string{"127.0.0.1", "10.0.0.7", "192.168.1.20", ""} {
		if _, err := client.CreateSession(context.Background(), SessionRequest{Amount: 10000, IP: address}); err != nil {
			t.Fatalf("CreateSession failed for ip %q: %v", address, err)
		}
		if got := fake.lastPayload["ip"]; got != "201.245.254.45" {
			t.Fatalf("ip %q should be substituted, payload has %v", address, got)
		}
	}
}

func TestCreateSessionExtraFieldsForwardedButTypedWin(t *testing.T) {
	fake := newFakeGateway(t)
	client := newTestClient(fake, config.EpaycoConfig{})

	_, err := client.CreateSession(context.Background(), SessionRequest{
		Amount:   10000,
		Currency: "COP",
		Extra: map[string]any{
			"invoice":  "INV-9",
			"currency": "USD",
		},
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if got := fake.lastPayload["invoice"]; got != "INV-9" {
		t.Fatalf("extra field not forwarded: %v", got)
	}
	if got := fake.lastPayload["currency"]; got != "COP" {
		t.Fatalf("typed currency should win over extra, got %v", got)
	}
}

func TestCreateSessionRequiresCredentials(t *testing.T) {
	client := NewClient(config.EpaycoConfig{})
	_, err := client.CreateSession(context.Background(), SessionRequest{Amount: 10000})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}

func TestCreateSessionSurfacesGatewayFailure(t *testing.T) {
	fake := newFakeGateway(t)
	fake.loginStatus = http.StatusUnauthorized
	client := newTestClient(fake, config.EpaycoConfig{})

	_, err := client.CreateSession(context.Background(), SessionRequest{Amount: 10000})
	var gateway *GatewayError
	if !errors.As(err, &gateway) {
		t.Fatalf("want GatewayError, got %v", err)
	}
	if gateway.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", gateway.StatusCode)
	}
}

func TestValidateReferenceUnwrapsDataEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/validation/v1/reference/ref-42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"x_response":   "Aceptada",
				"x_id_invoice": "INV-42",
			},
		})
	}))
	defer server.Close()

	client := NewClient(config.EpaycoConfig{ValidationBaseURL: server.URL})
	txn, err := client.ValidateReference(context.Background(), "ref-42")
	if err != nil {
		t.Fatalf("ValidateReference failed: %v", err)
	}
	if txn.State != "Aceptada" {
		t.Fatalf("state = %q, want Aceptada", txn.State)
	}
	if txn.Invoice != "INV-42" {
		t.Fatalf("invoice = %q, want INV-42", txn.Invoice)
	}
}

func TestMapState(t *testing.T) {
	cases := map[string]string{
		"Aceptada":       "paid",
		"Aceptada Test":  "paid",
		"APPROVED":       "paid",
		"approved":       "paid",
		"Pendiente":      "pending_payment",
		"Pendiente Test": "pending_payment",
		"PENDING":        "pending_payment",
		"Rechazada":      "rejected",
		"REJECTED":       "rejected",
		"Fallida":        "failed",
		"FAILED":         "failed",
	}
	for state, want := range cases {
		got, ok := MapState(state)
		if !ok || got != want {
			t.Fatalf("MapState(%q) = %q, %v; want %q", state, got, ok, want)
		}
	}

	if _, ok := MapState("Desconocida"); ok {
		t.Fatalf("unknown state should not map")
	}
	if _, ok := MapState(""); ok {
		t.Fatalf("empty state should not map")
	}
}

func TestSignature(t *testing.T) {
	// sha256("cust^key^ref^txn^5000^COP")
	want := Signature("cust", "key", "ref", "txn", "5000", "COP")
	if len(want) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(want))
	}
	if again := Signature("cust", "key", "ref", "txn", "5000", "COP"); again != want {
		t.Fatalf("signature is not deterministic")
	}
	if tampered := Signature("cust", "key", "ref", "txn", "5001", "COP"); tampered == want {
		t.Fatalf("signature should change with the amount")
	}
}

func TestVerifySignature(t *testing.T) {
	client := NewClient(config.EpaycoConfig{CustomerID: "cust", PKey: "key"})

	valid := Signature("cust", "key", "ref", "txn", "5000", "COP")
	computed, ok, err := client.VerifySignature("ref", "txn", "5000", "COP", valid)
	if err != nil || !ok {
		t.Fatalf("valid signature rejected: ok=%v err=%v", ok, err)
	}
	if computed != valid {
		t.Fatalf("computed = %q, want %q", computed, valid)
	}

	if _, ok, _ := client.VerifySignature("ref", "txn", "5000", "COP", "tampered"); ok {
		t.Fatalf("tampered signature accepted")
	}
	if _, ok, _ := client.VerifySignature("ref", "txn", "5000", "COP", ""); ok {
		t.Fatalf("empty signature accepted")
	}

	unconfigured := NewClient(config.EpaycoConfig{})
	if _, _, err := unconfigured.VerifySignature("ref", "txn", "5000", "COP", valid); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}
