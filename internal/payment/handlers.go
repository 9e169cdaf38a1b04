package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/bakery-payway/internal/common"
	"github.com/noah-isme/bakery-payway/internal/order"
)

const maxCallbackBody = 64 << 10

// Handler exposes the PayWay HTTP endpoints.
type Handler struct {
	Initiator *Initiator
	Receiver  *Receiver
	QR        *QRClient
	Signer    Signer
	// PublicKey verifies signatures for the operator tooling endpoint.
	PublicKey string
	// ManualConfirm opens GET /callback. Keep it closed outside development.
	ManualConfirm bool
	Validate      *validator.Validate
	Logger        zerolog.Logger
}

type amountRequest struct {
	OrderID string      `json:"orderId" validate:"required,max=128"`
	Amount  json.Number `json:"amount" validate:"required"`
}

// Checkout signs a hosted checkout request for an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Initiator == nil {
		common.JSONMessageError(w, http.StatusInternalServerError, "Payment gateway is not configured")
		return
	}
	orderID, amount, ok := h.decodeAmountRequest(w, r)
	if !ok {
		return
	}
	checkout, err := h.Initiator.InitiateCheckout(r.Context(), orderID, amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, checkout)
}

// GenerateQR requests an ABA PayWay QR code for an order.
func (h *Handler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	if h.QR == nil {
		common.JSONMessageError(w, http.StatusInternalServerError, "Payment gateway is not configured")
		return
	}
	orderID, amount, ok := h.decodeAmountRequest(w, r)
	if !ok {
		return
	}
	qr, err := h.QR.GenerateQR(r.Context(), orderID, amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, qr)
}

func (h *Handler) decodeAmountRequest(w http.ResponseWriter, r *http.Request) (string, decimal.Decimal, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONMessageError(w, http.StatusBadRequest, "Invalid order data")
		return "", decimal.Decimal{}, false
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if err := h.validator().Struct(req); err != nil {
		common.JSONMessageError(w, http.StatusBadRequest, "Invalid order data")
		return "", decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		common.JSONMessageError(w, http.StatusBadRequest, "Invalid order data")
		return "", decimal.Decimal{}, false
	}
	return req.OrderID, amount, true
}

// Callback receives the gateway's push notification. The gateway only sees OK, a rejection
// reason, or INTERNAL_ERROR; faults are reported through logs and metrics.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.Receiver == nil {
		writeText(w, http.StatusOK, "INTERNAL_ERROR")
		return
	}
	n, err := decodeNotification(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	res := h.Receiver.HandleNotification(r.Context(), n)
	switch res.Outcome {
	case OutcomeRejected:
		var rej *CallbackRejected
		reason := "Invalid Status"
		if errors.As(res.Err, &rej) {
			reason = rej.Reason
		}
		writeText(w, http.StatusBadRequest, reason)
	case OutcomeFault:
		writeText(w, http.StatusOK, "INTERNAL_ERROR")
	default:
		writeText(w, http.StatusOK, "OK")
	}
}

// ManualCallback confirms an order from GET /callback?orderId=, whatever status says. Closed gates answer 404.
func (h *Handler) ManualCallback(w http.ResponseWriter, r *http.Request) {
	if !h.ManualConfirm || h.Receiver == nil {
		common.JSONMessageError(w, http.StatusNotFound, "Not found")
		return
	}
	orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))
	if orderID == "" {
		common.JSONMessageError(w, http.StatusBadRequest, "Missing orderId")
		return
	}
	res := h.Receiver.ConfirmManual(r.Context(), orderID)
	switch res.Outcome {
	case OutcomeApplied, OutcomeDuplicate:
		common.JSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Order %s manually confirmed (SIMULATED)", orderID)})
	case OutcomeConflict:
		common.JSONMessageError(w, http.StatusConflict, fmt.Sprintf("Order %s is cancelled", orderID))
	case OutcomeRejected:
		common.JSONMessageError(w, http.StatusBadRequest, res.Err.Error())
	default:
		if errors.Is(res.Err, order.ErrNotFound) {
			common.JSONMessageError(w, http.StatusNotFound, "Order not found")
			return
		}
		common.JSONMessageError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// signatureRequest carries the purchase.v1 fields. Values may arrive as JSON strings or numbers.
type signatureRequest struct {
	PrivateKey         string     `json:"privateKey"`
	Profile            string     `json:"profile"`
	RequestTime        flexString `json:"req_time"`
	MerchantID         flexString `json:"merchant_id"`
	TransactionID      flexString `json:"tran_id"`
	Amount             flexString `json:"amount"`
	Items              flexString `json:"items"`
	Shipping           flexString `json:"shipping"`
	Tax                flexString `json:"tax"`
	Type               flexString `json:"type"`
	PaymentOption      flexString `json:"payment_option"`
	ReturnURL          flexString `json:"return_url"`
	CancelURL          flexString `json:"cancel_url"`
	ContinueSuccessURL flexString `json:"continue_success_url"`
	ReturnParams       flexString `json:"return_params"`
	Hash               string     `json:"hash"`
}

func (s signatureRequest) paymentRequest() PaymentRequest {
	return PaymentRequest{
		RequestTime:        string(s.RequestTime),
		MerchantID:         string(s.MerchantID),
		TransactionID:      string(s.TransactionID),
		Amount:             string(s.Amount),
		Items:              string(s.Items),
		Shipping:           string(s.Shipping),
		Tax:                string(s.Tax),
		Type:               string(s.Type),
		PaymentOption:      string(s.PaymentOption),
		ReturnURL:          string(s.ReturnURL),
		CancelURL:          string(s.CancelURL),
		ContinueSuccessURL: string(s.ContinueSuccessURL),
		ReturnParams:       string(s.ReturnParams),
	}
}

func (s signatureRequest) profile() (Profile, error) {
	if strings.TrimSpace(s.Profile) == "" {
		return ProfileRSASHA512, nil
	}
	return ParseProfile(s.Profile)
}

// Signature signs caller-supplied purchase.v1 fields with a caller-supplied key.
func (h *Handler) Signature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONMessageError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.PrivateKey) == "" {
		common.JSONMessageError(w, http.StatusBadRequest, "Private Key is required")
		return
	}
	profile, err := req.profile()
	if err != nil {
		common.JSONMessageError(w, http.StatusBadRequest, err.Error())
		return
	}
	canonical, err := req.paymentRequest().Canonical(LayoutPurchaseV1)
	if err != nil {
		common.JSONMessageError(w, http.StatusInternalServerError, err.Error())
		return
	}
	signer := h.Signer
	if signer == nil {
		signer = RSASigner{Logger: h.Logger}
	}
	sig, err := signer.Sign(canonical, req.PrivateKey, profile)
	if err != nil {
		common.JSONMessageError(w, http.StatusInternalServerError, err.Error())
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"hash": sig})
}

// VerifySignature checks a purchase.v1 hash against the configured public key.
func (h *Handler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.PublicKey) == "" {
		common.JSONMessageError(w, http.StatusInternalServerError, (&ConfigurationError{Missing: []string{"PAYWAY_PUBLIC_KEY"}}).Error())
		return
	}
	var req signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONMessageError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Hash) == "" {
		common.JSONMessageError(w, http.StatusBadRequest, "hash is required")
		return
	}
	profile, err := req.profile()
	if err != nil {
		common.JSONMessageError(w, http.StatusBadRequest, err.Error())
		return
	}
	canonical, _ := req.paymentRequest().Canonical(LayoutPurchaseV1)
	err = Verify(h.PublicKey, canonical, req.Hash, profile)
	var keyErr *InvalidKeyError
	switch {
	case err == nil:
		common.JSON(w, http.StatusOK, map[string]any{"valid": true})
	case errors.Is(err, ErrSignatureMismatch):
		common.JSON(w, http.StatusOK, map[string]any{"valid": false})
	case errors.As(err, &keyErr):
		common.JSONMessageError(w, http.StatusInternalServerError, err.Error())
	default:
		common.JSONMessageError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		invalid     *InvalidRequestError
		configErr   *ConfigurationError
		unavailable *GatewayUnavailableError
		gatewayErr  *GatewayError
	)
	switch {
	case errors.As(err, &invalid):
		common.JSONMessageError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &configErr):
		common.JSONMessageError(w, http.StatusInternalServerError, "Payment gateway is not configured")
	case errors.As(err, &unavailable):
		common.JSONMessageError(w, http.StatusGatewayTimeout, "Payment gateway unavailable")
	case errors.As(err, &gatewayErr) && gatewayErr.Malformed:
		common.JSONMessageError(w, http.StatusBadGateway, "Payment gateway returned an invalid response")
	case errors.As(err, &gatewayErr):
		common.JSONMessageError(w, http.StatusBadRequest, gatewayErr.Message)
	default:
		h.Logger.Error().Err(err).Msg("payway request failed")
		common.JSONMessageError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return validator.New()
}

// decodeNotification accepts JSON, urlencoded and multipart bodies.
func decodeNotification(r *http.Request) (Notification, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return Notification{}, err
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" || (mediaType == "" && bytes.HasPrefix(bytes.TrimSpace(body), []byte("{"))) {
		var raw map[string]flexString
		if err := json.Unmarshal(body, &raw); err != nil {
			return Notification{}, err
		}
		return Notification{
			TransactionID: string(raw["tran_id"]),
			Status:        string(raw["status"]),
			APV:           string(raw["apv"]),
			ReturnParams:  string(raw["return_params"]),
			Hash:          string(raw["hash"]),
		}, nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxCallbackBody); err != nil {
			return Notification{}, err
		}
	} else if err := r.ParseForm(); err != nil {
		return Notification{}, err
	}
	return Notification{
		TransactionID: r.FormValue("tran_id"),
		Status:        r.FormValue("status"),
		APV:           r.FormValue("apv"),
		ReturnParams:  r.FormValue("return_params"),
		Hash:          r.FormValue("hash"),
	}, nil
}

// flexString decodes a JSON string, number or null into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number: %w", err)
		}
		*f = flexString(n.String())
	}
	return nil
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
