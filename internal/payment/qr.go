package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/bakery-payway/internal/obs"
	"github.com/noah-isme/bakery-payway/internal/resilience"
)

const maxGatewayResponse = 1 << 20

// HTTPDoer sends a request honouring ctx. resilience.HTTPClient satisfies it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// QRRequest is the JSON body posted to the QR API. The signature covers the exact bytes sent.
type QRRequest struct {
	MerchantID    string      `json:"merchantId"`
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	PaymentOption string      `json:"paymentOption"`
	ReturnURL     string      `json:"returnUrl"`
	CancelURL     string      `json:"cancelUrl"`
}

// QRCode is returned to the storefront.
type QRCode struct {
	QRCode        string      `json:"qrCode"`
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
}

type qrResponse struct {
	Status struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	QRCode string `json:"qrCode"`
}

// QRClient generates ABA PayWay QR codes through the gateway API.
type QRClient struct {
	Gateway Gateway
	Signer  Signer
	HTTP    HTTPDoer
	Logger  zerolog.Logger
}

// NewGatewayHTTPClient builds the traced, breaker-protected client used for gateway calls.
func NewGatewayHTTPClient(timeout time.Duration, logger zerolog.Logger) resilience.HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:       "payway-qr",
		MinRequests:  5,
		FailureRatio: 0.5,
		Cooldown:     30 * time.Second,
		Logger:       logger,
	})
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     breaker,
		Target:      "payway-qr",
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: 1,
		Jitter:      0.2,
		Timeout:     timeout,
	}
}

// GenerateQR signs the QR request with RSA-SHA256 and posts it to the gateway.
func (c *QRClient) GenerateQR(ctx context.Context, orderID string, amount decimal.Decimal) (QRCode, error) {
	ctx, span := otel.Tracer("payment.QRClient").Start(ctx, "QRClient.GenerateQR")
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	span.SetAttributes(attribute.String("order.id", orderID))
	if orderID == "" {
		return QRCode{}, &InvalidRequestError{Field: "orderId", Reason: "is required"}
	}
	if !amount.IsPositive() || FormatAmount(amount) == "0.00" {
		return QRCode{}, &InvalidRequestError{Field: "amount", Reason: "must be greater than zero"}
	}
	if c.Signer == nil || c.HTTP == nil {
		return QRCode{}, &ConfigurationError{Missing: []string{"qr client"}}
	}
	if err := c.Gateway.checkQR(); err != nil {
		return QRCode{}, err
	}

	amt := json.Number(FormatAmount(amount))
	body, err := json.Marshal(QRRequest{
		MerchantID:    c.Gateway.MerchantID,
		TransactionID: orderID,
		Amount:        amt,
		Currency:      c.Gateway.currency(),
		PaymentOption: strings.ToUpper(c.Gateway.paymentOption()),
		ReturnURL:     c.Gateway.callbackURL(),
		CancelURL:     c.Gateway.CancelURL(orderID),
	})
	if err != nil {
		return QRCode{}, err
	}
	sig, err := c.Signer.Sign(string(body), c.Gateway.PrivateKey, ProfileRSASHA256)
	if err != nil {
		return QRCode{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Gateway.QRAPIURL, bytes.NewReader(body))
	if err != nil {
		return QRCode{}, &ConfigurationError{Missing: []string{"PAYWAY_QR_API_URL"}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Signature", sig)

	start := time.Now()
	result := "error"
	defer func() {
		obs.ObserveMillis(obs.PayWayGatewayLatency, obs.DurationMillis(time.Since(start)), "generate_qr", result)
		span.SetAttributes(attribute.String("payway.qr.result", result))
	}()

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		result = "unavailable"
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unavailable")
		c.Logger.Error().Err(err).Str("order_id", orderID).Msg("payway qr request failed")
		return QRCode{}, &GatewayUnavailableError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponse))
	if err != nil {
		result = "unavailable"
		return QRCode{}, &GatewayUnavailableError{Err: err}
	}

	var decoded qrResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		result = "malformed"
		c.Logger.Error().Int("status", resp.StatusCode).Str("order_id", orderID).Msg("payway qr returned non-JSON response")
		return QRCode{}, &GatewayError{Malformed: true}
	}
	code := fmt.Sprint(decoded.Status.Code)
	if resp.StatusCode >= 300 || (code != "0" && code != "00") {
		result = "refused"
		msg := decoded.Status.Message
		if msg == "" {
			msg = "QR generation failed"
		}
		c.Logger.Warn().Str("order_id", orderID).Str("code", code).Str("message", msg).Msg("payway qr refused")
		return QRCode{}, &GatewayError{Code: code, Message: msg}
	}
	result = "ok"
	return QRCode{QRCode: decoded.QRCode, TransactionID: orderID, Amount: amt}, nil
}

// IsGatewayTimeout reports whether err is a gateway failure caused by a deadline.
func IsGatewayTimeout(err error) bool {
	var unavailable *GatewayUnavailableError
	return errors.As(err, &unavailable) && errors.Is(err, context.DeadlineExceeded)
}
