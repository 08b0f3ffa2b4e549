package epayco

// stateMap translates the gateway's textual transaction state to an internal
// order status. The gateway reports states in Spanish natively and in
// English through some response shapes, so both families are listed.
var stateMap = map[string]string{
	"Aceptada":      "paid",
	"Aceptado":      "paid",
	"Aceptada Test": "paid",
	"APPROVED":      "paid",
	"Approved":      "paid",
	"approved":      "paid",

	"Pendiente":      "pending_payment",
	"Pendiente Test": "pending_payment",
	"PENDING":        "pending_payment",
	"Pending":        "pending_payment",
	"pending":        "pending_payment",

	"Rechazada": "rejected",
	"REJECTED":  "rejected",
	"Rejected":  "rejected",
	"rejected":  "rejected",

	"Fallida": "failed",
	"FAILED":  "failed",
	"Failed":  "failed",
	"failed":  "failed",
}

// MapState translates a gateway transaction state to an internal order
// status. The second return reports whether the state was recognized;
// callers leave the order untouched on a miss.
func MapState(state string) (string, bool) {
	status, ok := stateMap[state]
	return status, ok
}
