package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/bakery-payway/internal/obs"
	"github.com/noah-isme/bakery-payway/internal/order"
)

// OrderReader is the slice of the order store the checkout path needs.
type OrderReader interface {
	Get(ctx context.Context, id string) (order.Order, error)
}

// Checkout is returned to the storefront, which posts Payload to RedirectURL.
type Checkout struct {
	RedirectURL string         `json:"redirectUrl"`
	Payload     PaymentRequest `json:"payload"`
}

// Initiator builds and signs hosted-checkout requests.
type Initiator struct {
	Gateway Gateway
	Signer  Signer
	// Orders is optional. When set, a stored order must be pending and its total must
	// match the requested amount.
	Orders OrderReader
	Clock  func() time.Time
	Logger zerolog.Logger
}

// InitiateCheckout validates the request, builds the checkout.v1 canonical string and signs it.
// Configuration is checked before the signer is consulted.
func (s *Initiator) InitiateCheckout(ctx context.Context, orderID string, amount decimal.Decimal) (Checkout, error) {
	ctx, span := otel.Tracer("payment.Initiator").Start(ctx, "Initiator.InitiateCheckout")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("payway.checkout.result", result))
		obs.IncCounter(obs.PayWayCheckoutTotal, result)
	}()

	orderID = strings.TrimSpace(orderID)
	span.SetAttributes(attribute.String("order.id", orderID))
	if orderID == "" {
		result = "invalid_request"
		return Checkout{}, &InvalidRequestError{Field: "orderId", Reason: "is required"}
	}
	if !amount.IsPositive() {
		result = "invalid_request"
		return Checkout{}, &InvalidRequestError{Field: "amount", Reason: "must be greater than zero"}
	}
	formatted := FormatAmount(amount)
	if formatted == "0.00" {
		result = "invalid_request"
		return Checkout{}, &InvalidRequestError{Field: "amount", Reason: "rounds to zero"}
	}
	if s.Signer == nil {
		result = "misconfigured"
		return Checkout{}, &ConfigurationError{Missing: []string{"signer"}}
	}
	if err := s.Gateway.checkCheckout(); err != nil {
		result = "misconfigured"
		span.SetStatus(codes.Error, err.Error())
		s.Logger.Error().Err(err).Str("order_id", orderID).Msg("checkout rejected: gateway not configured")
		return Checkout{}, err
	}
	if err := s.crossCheck(ctx, orderID, amount); err != nil {
		var invalid *InvalidRequestError
		if errors.As(err, &invalid) {
			result = "invalid_request"
		}
		return Checkout{}, err
	}

	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	req := PaymentRequest{
		RequestTime:   FormatRequestTime(now()),
		MerchantID:    s.Gateway.MerchantID,
		TransactionID: orderID,
		Amount:        formatted,
		Type:          PaymentTypePurchase,
		PaymentOption: s.Gateway.paymentOption(),
		ReturnURL:     s.Gateway.ReturnURL(orderID),
		CancelURL:     s.Gateway.CancelURL(orderID),
		Currency:      s.Gateway.currency(),
	}
	canonical, err := req.Canonical(LayoutCheckoutV1)
	if err != nil {
		return Checkout{}, err
	}
	sig, err := s.Signer.Sign(canonical, s.Gateway.PrivateKey, s.Gateway.Profile)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "signing failed")
		return Checkout{}, err
	}
	req.Signature = sig
	result = "ok"
	s.Logger.Info().
		Str("order_id", orderID).
		Str("amount", formatted).
		Str("signature_prefix", SignaturePrefix(sig)).
		Msg("checkout initiated")
	return Checkout{RedirectURL: s.Gateway.CheckoutURL, Payload: req}, nil
}

func (s *Initiator) crossCheck(ctx context.Context, orderID string, amount decimal.Decimal) error {
	if s.Orders == nil {
		return nil
	}
	o, err := s.Orders.Get(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o.Status != order.StatusPending {
		return &InvalidRequestError{Field: "orderId", Reason: fmt.Sprintf("order is %s", o.Status)}
	}
	if !o.Total.RoundBank(2).Equal(amount.RoundBank(2)) {
		return &InvalidRequestError{Field: "amount", Reason: fmt.Sprintf("does not match order total %s", FormatAmount(o.Total))}
	}
	return nil
}
