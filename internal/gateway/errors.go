package gateway

import (
	"encoding/json"
	"net/http"
)

// Error types surfaced in JSON error bodies.
const (
	errTypeAuth       = "auth_error"
	errTypeValidation = "validation_error"
	errTypeCredit     = "credit_error"
	errTypePlan       = "plan_limit_error"
	errTypeUpstream   = "upstream_error"
	errTypeSession    = "session_error"
	errTypeInternal   = "internal_error"
)

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Required *int64 `json:"required,omitempty"`
	Balance  *int64 `json:"balance,omitempty"`
	Refunded *bool  `json:"refunded,omitempty"`
}

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, errType, msg string, status int) {
	g.writeErrorBody(w, errType, msg, status, nil)
}

// writeCreditError writes the 402 body carrying required and available
// credits so callers can show a meaningful top-up prompt.
func (g *Gateway) writeCreditError(w http.ResponseWriter, msg string, required, balance int64) {
	body := &errorBody{Required: &required, Balance: &balance}
	g.writeErrorBody(w, errTypeCredit, msg, http.StatusPaymentRequired, body)
}

// writeRefundedError reports a failure that happened after credits were
// reserved; refunded tells the caller their credits are back.
func (g *Gateway) writeRefundedError(w http.ResponseWriter, errType, msg string, status int, refunded bool) {
	body := &errorBody{Refunded: &refunded}
	g.writeErrorBody(w, errType, msg, status, body)
}

func (g *Gateway) writeErrorBody(w http.ResponseWriter, errType, msg string, status int, body *errorBody) {
	if body == nil {
		body = &errorBody{}
	}
	body.Error.Type = errType
	body.Error.Message = msg

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
