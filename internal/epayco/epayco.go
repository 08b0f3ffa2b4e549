// Package epayco is a thin adapter over the ePayco Apify API: session
// creation for checkout, webhook signature verification, and transaction
// lookup by reference. It keeps no state between calls; every operation is
// a single outbound request with no retries.
package epayco

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alma-store/apiserver/config"
)

const (
	defaultAPIBaseURL        = "https://apify.epayco.co"
	defaultValidationBaseURL = "https://secure.epayco.co"

	defaultCheckoutVersion = "2"

	// Amounts above this are assumed to be minor units sent by mistake
	// and are divided by 100 before reaching the gateway.
	minorUnitThreshold = 1_000_000
)

// Client talks to the ePayco Apify API.
type Client struct {
	cfg               config.EpaycoConfig
	httpClient        *http.Client
	apiBaseURL        string
	validationBaseURL string
}

// NewClient constructs a gateway client. Credential presence is checked at
// call time so that a misconfigured deployment fails the affected request
// with a configuration error instead of failing startup.
func NewClient(cfg config.EpaycoConfig) *Client {
	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = defaultAPIBaseURL
	}
	validationBase := strings.TrimRight(cfg.ValidationBaseURL, "/")
	if validationBase == "" {
		validationBase = defaultValidationBaseURL
	}
	return &Client{
		cfg:               cfg,
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		apiBaseURL:        apiBase,
		validationBaseURL: validationBase,
	}
}

// SessionRequest carries the typed checkout fields plus an open map of
// passthrough fields the frontend may send. Typed fields win over Extra
// entries of the same name.
type SessionRequest struct {
	Amount      float64
	Currency    string
	Name        string
	Description string
	Lang        string
	Country     string

	// IP is the resolved client address. Loopback and private addresses
	// are replaced with the configured test IP; the gateway rejects them.
	IP string

	// Test overrides the configured test-mode flag when set.
	Test *bool

	// ResponseURL and ConfirmationURL must be public HTTPS when supplied;
	// empty values fall back to the configured defaults.
	ResponseURL     string
	ConfirmationURL string

	// Extra holds any additional fields forwarded verbatim to the gateway.
	Extra map[string]any
}

// CreateSession authenticates against the gateway and creates a checkout
// session. On success the gateway's full response document is returned; it
// contains the opaque session id the frontend launches checkout with.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (map[string]any, error) {
	if strings.TrimSpace(c.cfg.PublicKey) == "" || strings.TrimSpace(c.cfg.PrivateKey) == "" {
		return nil, fmt.Errorf("%w: EPAYCO_PUBLIC_KEY and EPAYCO_PRIVATE_KEY must be set", ErrNotConfigured)
	}

	token, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := c.buildSessionPayload(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/payment/session/create", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("epayco: session create request failed: %v", err)
		return nil, &GatewayError{Message: "failed to create ePayco session"}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("epayco: session create failed: status=%d body=%s", resp.StatusCode, respBody)
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    "failed to create ePayco session",
			Body:       json.RawMessage(respBody),
		}
	}

	var session map[string]any
	if err := json.Unmarshal(respBody, &session); err != nil {
		log.Printf("epayco: session create returned malformed body: %s", respBody)
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: "malformed session response"}
	}
	return session, nil
}

// login exchanges the public/private key pair for a short-lived bearer
// token using basic auth.
func (c *Client) login(ctx context.Context) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/login", nil)
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.PublicKey + ":" + c.cfg.PrivateKey))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("epayco: login request failed: %v", err)
		return "", &GatewayError{Message: "failed to authenticate with ePayco Apify"}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("epayco: login failed: status=%d body=%s", resp.StatusCode, body)
		return "", &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    "failed to authenticate with ePayco Apify",
			Body:       json.RawMessage(body),
		}
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil || strings.TrimSpace(loginResp.Token) == "" {
		log.Printf("epayco: login response missing token: %s", body)
		return "", &GatewayError{StatusCode: resp.StatusCode, Message: "Apify token not returned"}
	}
	return loginResp.Token, nil
}

func (c *Client) buildSessionPayload(req SessionRequest) (map[string]any, error) {
	payload := make(map[string]any, len(req.Extra)+12)
	for key, value := range req.Extra {
		payload[key] = value
	}

	if _, ok := payload["checkout_version"]; !ok {
		payload["checkout_version"] = defaultCheckoutVersion
	}
	payload["name"] = firstNonEmpty(req.Name, c.cfg.StoreName)
	payload["description"] = firstNonEmpty(req.Description, c.cfg.StoreDescription)
	payload["country"] = firstNonEmpty(req.Country, c.cfg.Country)
	if req.Currency != "" {
		payload["currency"] = req.Currency
	}
	if req.Lang != "" {
		payload["lang"] = req.Lang
	}

	ip := req.IP
	if ip == "" || isPrivateOrLoopback(ip) {
		ip = c.cfg.TestIP
	}
	if _, ok := payload["ip"]; !ok {
		payload["ip"] = ip
	}

	test := c.cfg.TestMode
	if req.Test != nil {
		test = *req.Test
	}
	payload["test"] = test

	amount := req.Amount
	if amount > minorUnitThreshold {
		normalized := amount / 100
		log.Printf("epayco: normalized amount %v to %v (assumed minor units)", amount, normalized)
		amount = normalized
	}
	if c.cfg.MinAmount > 0 && amount < c.cfg.MinAmount {
		log.Printf("epayco: amount %v below configured min %v", amount, c.cfg.MinAmount)
		return nil, &ValidationError{
			Code:    CodeAmountBelowMin,
			Message: fmt.Sprintf("El monto (%v) está por debajo del mínimo permitido (%v).", amount, c.cfg.MinAmount),
		}
	}
	if c.cfg.MaxAmount > 0 && amount > c.cfg.MaxAmount {
		log.Printf("epayco: amount %v above configured max %v", amount, c.cfg.MaxAmount)
		return nil, &ValidationError{
			Code:    CodeAmountAboveMax,
			Message: fmt.Sprintf("El monto (%v) supera el máximo permitido (%v).", amount, c.cfg.MaxAmount),
		}
	}
	payload["amount"] = amount

	responseURL := cleanURL(firstNonEmpty(req.ResponseURL, c.cfg.ResponseURL))
	if responseURL != "" {
		if !isValidPublicHTTPS(responseURL) {
			log.Printf("epayco: invalid response URL: %q", responseURL)
			return nil, &ValidationError{
				Code:    CodeInvalidURL,
				Message: "La URL `response` debe ser una URL pública y segura (https).",
			}
		}
		payload["response"] = responseURL
	}
	confirmationURL := cleanURL(firstNonEmpty(req.ConfirmationURL, c.cfg.ConfirmationURL))
	if confirmationURL != "" {
		if !isValidPublicHTTPS(confirmationURL) {
			log.Printf("epayco: invalid confirmation URL: %q", confirmationURL)
			return nil, &ValidationError{
				Code:    CodeInvalidURL,
				Message: "La URL `confirmation` debe ser una URL pública y segura (https).",
			}
		}
		payload["confirmation"] = confirmationURL
	}

	return payload, nil
}

// Transaction is the distilled result of a reference lookup against the
// gateway's public validation endpoint.
type Transaction struct {
	// State is the gateway's textual transaction state, fed to MapState.
	State string

	// Invoice is the gateway invoice/transaction id, when reported.
	Invoice string

	// Raw is the payload document the fields were extracted from.
	Raw map[string]any
}

// ValidateReference polls the gateway's public validation endpoint for the
// transaction identified by ref.
func (c *Client) ValidateReference(ctx context.Context, ref string) (Transaction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.validationBaseURL+"/validation/v1/reference/"+url.PathEscape(ref), nil)
	if err != nil {
		return Transaction{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("epayco: reference validation request failed: %v", err)
		return Transaction{}, &GatewayError{Message: "validation failed"}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("epayco: reference validation failed: status=%d body=%s", resp.StatusCode, body)
		return Transaction{}, &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    "validation failed",
			Body:       json.RawMessage(body),
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Transaction{}, &GatewayError{StatusCode: resp.StatusCode, Message: "invalid payload"}
	}
	payload := doc
	if data, ok := doc["data"].(map[string]any); ok {
		payload = data
	}

	return Transaction{
		State:   stringField(payload, "x_response", "x_transaction_state", "transaction_state", "state"),
		Invoice: stringField(payload, "x_id_invoice", "invoice"),
		Raw:     payload,
	}, nil
}

func stringField(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		switch value := payload[key].(type) {
		case string:
			if value != "" {
				return value
			}
		case float64:
			return fmt.Sprintf("%v", value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// cleanURL strips surrounding whitespace and wrapping quote/backtick
// characters that copy-pasted env values tend to carry.
func cleanURL(raw string) string {
	return strings.Trim(raw, " \t\n\r\x00\x0b`\"'")
}

// isValidPublicHTTPS reports whether the URL is absolute, HTTPS, and points
// at neither localhost nor a private address. The gateway refuses redirect
// URLs it cannot reach from the public internet.
func isValidPublicHTTPS(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return false
	}
	host := parsed.Hostname()
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return false
	}
	return true
}

func isPrivateOrLoopback(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
