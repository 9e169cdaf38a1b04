package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bakery-payway/internal/order"
	"github.com/noah-isme/bakery-payway/internal/payment"
)

func newRouter(t *testing.T, store *order.MemoryStore, manual bool) http.Handler {
	t.Helper()
	recv, _ := newReceiver(store)
	h := &payment.Handler{
		Initiator:     newInitiator(t, payment.RSASigner{Logger: zerolog.Nop()}, store),
		Receiver:      recv,
		PublicKey:     testKeys(t).public,
		ManualConfirm: manual,
		Logger:        zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Post("/checkout", h.Checkout)
	r.Post("/callback", h.Callback)
	r.Get("/callback", h.ManualCallback)
	r.Post("/signature", h.Signature)
	r.Post("/signature/verify", h.VerifySignature)
	r.Post("/payway/qr", h.GenerateQR)
	return r
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEndToEndCheckoutAndCallback(t *testing.T) {
	store := seededStore(order.StatusPending)
	router := newRouter(t, store, true)
	ctx := context.Background()

	rec := do(t, router, http.MethodPost, "/checkout", "application/json", `{"orderId":"ORD123","amount":24.00}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out payment.Checkout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "ORD123", out.Payload.TransactionID)
	require.Equal(t, "24.00", out.Payload.Amount)
	canonical, err := out.Payload.Canonical(payment.LayoutCheckoutV1)
	require.NoError(t, err)
	require.NoError(t, payment.Verify(testKeys(t).public, canonical, out.Payload.Signature, payment.ProfileRSASHA512))

	o, _ := store.Get(ctx, "ORD123")
	require.Equal(t, order.StatusPending, o.Status)

	form := url.Values{"tran_id": {"ORD123"}, "status": {"0"}}.Encode()
	rec = do(t, router, http.MethodPost, "/callback", "application/x-www-form-urlencoded", form)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
	o, _ = store.Get(ctx, "ORD123")
	require.Equal(t, order.StatusPaid, o.Status)

	rec = do(t, router, http.MethodGet, "/callback?orderId=ORD123", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Order ORD123 manually confirmed (SIMULATED)"}`, rec.Body.String())
	o, _ = store.Get(ctx, "ORD123")
	require.Equal(t, order.StatusPaid, o.Status)
}

func TestManualConfirmationFromPending(t *testing.T) {
	store := seededStore(order.StatusPending)
	router := newRouter(t, store, true)

	rec := do(t, router, http.MethodGet, "/callback?orderId=ORD123&status=failed", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	o, _ := store.Get(context.Background(), "ORD123")
	require.Equal(t, order.StatusPaid, o.Status)

	rec = do(t, router, http.MethodGet, "/callback", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Missing orderId"}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/callback?orderId=NOPE", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualConfirmationGateClosed(t *testing.T) {
	store := seededStore(order.StatusPending)
	router := newRouter(t, store, false)

	rec := do(t, router, http.MethodGet, "/callback?orderId=ORD123", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	o, _ := store.Get(context.Background(), "ORD123")
	require.Equal(t, order.StatusPending, o.Status)
}

func TestCallbackBodies(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		code        int
		reply       string
		status      order.Status
	}{
		{"json approved", "application/json", `{"tran_id":"ORD123","status":0}`, http.StatusOK, "OK", order.StatusPaid},
		{"json declined", "application/json", `{"tran_id":"ORD123","status":"3"}`, http.StatusBadRequest, "status 3 is not approved", order.StatusPending},
		{"form missing id", "application/x-www-form-urlencoded", "status=0", http.StatusBadRequest, "missing tran_id", order.StatusPending},
		{"sniffed json", "", `{"tran_id":"ORD123","status":"APPR"}`, http.StatusOK, "OK", order.StatusPaid},
		{"broken json", "application/json", `{"tran_id":`, http.StatusBadRequest, "Invalid payload", order.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := seededStore(order.StatusPending)
			rec := do(t, newRouter(t, store, false), http.MethodPost, "/callback", tc.contentType, tc.body)
			require.Equal(t, tc.code, rec.Code)
			require.Equal(t, tc.reply, rec.Body.String())
			o, _ := store.Get(context.Background(), "ORD123")
			require.Equal(t, tc.status, o.Status)
		})
	}
}

func TestCallbackMultipartBody(t *testing.T) {
	store := seededStore(order.StatusPending)
	body := "--XYZ\r\nContent-Disposition: form-data; name=\"tran_id\"\r\n\r\nORD123\r\n" +
		"--XYZ\r\nContent-Disposition: form-data; name=\"status\"\r\n\r\n00\r\n--XYZ--\r\n"
	rec := do(t, newRouter(t, store, false), http.MethodPost, "/callback", "multipart/form-data; boundary=XYZ", body)
	require.Equal(t, http.StatusOK, rec.Code)
	o, _ := store.Get(context.Background(), "ORD123")
	require.Equal(t, order.StatusPaid, o.Status)
}

func TestCallbackFaultStillAcknowledges(t *testing.T) {
	rec := do(t, newRouter(t, order.NewMemoryStore(), false), http.MethodPost, "/callback", "application/x-www-form-urlencoded", "tran_id=GHOST&status=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "INTERNAL_ERROR", rec.Body.String())
}

func TestCheckoutErrors(t *testing.T) {
	store := seededStore(order.StatusPending)
	router := newRouter(t, store, false)

	rec := do(t, router, http.MethodPost, "/checkout", "application/json", `{"orderId":"","amount":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Invalid order data"}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/checkout", "application/json", `{"orderId":"ORD123","amount":"abc"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/checkout", "application/json", `{"orderId":"ORD123","amount":-1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/checkout", "application/json", `{"orderId":"ORD123","amount":25}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "order total 24.00")
}

func TestCheckoutMisconfigured(t *testing.T) {
	spy := &spySigner{}
	ini := newInitiator(t, spy, nil)
	ini.Gateway.PrivateKey = ""
	h := &payment.Handler{Initiator: ini, Logger: zerolog.Nop()}

	rec := do(t, http.HandlerFunc(h.Checkout), http.MethodPost, "/checkout", "application/json", `{"orderId":"ORD1","amount":3}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Payment gateway is not configured"}`, rec.Body.String())
	require.Zero(t, spy.calls)
}

func TestSignatureEndpoint(t *testing.T) {
	k := testKeys(t)
	router := newRouter(t, order.NewMemoryStore(), false)

	rec := do(t, router, http.MethodPost, "/signature", "application/json", `{"tran_id":"ORD123"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Private Key is required"}`, rec.Body.String())

	fields := map[string]any{
		"req_time":       "20260301093000",
		"merchant_id":    "bakery-merchant",
		"tran_id":        "ORD123",
		"amount":         24.5,
		"type":           "purchase",
		"payment_option": "abapay",
		"return_params":  nil,
	}
	fields["privateKey"] = strings.ReplaceAll(k.private, "\n", `\n`)
	raw, _ := json.Marshal(fields)
	rec = do(t, router, http.MethodPost, "/signature", "application/json", string(raw))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	canonical := "20260301093000bakery-merchantORD12324.5purchaseabapay"
	require.NoError(t, payment.Verify(k.public, canonical, out.Hash, payment.ProfileRSASHA512))

	delete(fields, "privateKey")
	fields["hash"] = out.Hash
	raw, _ = json.Marshal(fields)
	rec = do(t, router, http.MethodPost, "/signature/verify", "application/json", string(raw))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"valid":true}`, rec.Body.String())

	fields["amount"] = "24.51"
	raw, _ = json.Marshal(fields)
	rec = do(t, router, http.MethodPost, "/signature/verify", "application/json", string(raw))
	require.JSONEq(t, `{"valid":false}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/signature", "application/json", `{"privateKey":"nope","tran_id":"x"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, router, http.MethodPost, "/signature", "application/json", `{"privateKey":"nope","profile":"HS256"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateQRNotConfigured(t *testing.T) {
	rec := do(t, newRouter(t, order.NewMemoryStore(), false), http.MethodPost, "/payway/qr", "application/json", `{"orderId":"ORD1","amount":1}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
