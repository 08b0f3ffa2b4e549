package handlers

import (
	"net/http"

	"github.com/alma-store/apiserver/internal/epayco"
	"github.com/go-chi/chi/v5"
)

// EpaycoHandler exposes direct gateway session creation, without an order.
// Frontends that manage their own order lifecycle use it to obtain a
// checkout session id.
type EpaycoHandler struct {
	gateway *epayco.Client
}

func NewEpaycoHandler(gateway *epayco.Client) *EpaycoHandler {
	return &EpaycoHandler{gateway: gateway}
}

// EpaycoRouter registers gateway routes on the given router.
func EpaycoRouter(r chi.Router, gateway *epayco.Client) {
	handler := NewEpaycoHandler(gateway)
	r.Post("/epayco/session", handler.CreateSession)
}

func (h *EpaycoHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	body, err := decodeLooseJSON(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	session, _, _, err := buildSessionRequest(r, body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	payload, err := h.gateway.CreateSession(r.Context(), session)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
