package payment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Layout names a versioned canonical field order. Changing an order means adding a layout.
type Layout string

const (
	// LayoutCheckoutV1 is the hosted checkout layout.
	LayoutCheckoutV1 Layout = "checkout.v1"
	// LayoutPurchaseV1 is the full purchase layout used by the signature tool.
	LayoutPurchaseV1 Layout = "purchase.v1"
)

// PaymentRequest is the signed payload handed to the gateway. Field names follow the
// gateway's form parameters.
type PaymentRequest struct {
	RequestTime        string `json:"req_time"`
	MerchantID         string `json:"merchant_id"`
	TransactionID      string `json:"tran_id"`
	Amount             string `json:"amount"`
	Items              string `json:"items,omitempty"`
	Shipping           string `json:"shipping,omitempty"`
	Tax                string `json:"tax,omitempty"`
	Type               string `json:"type"`
	PaymentOption      string `json:"payment_option"`
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
	ContinueSuccessURL string `json:"continue_success_url,omitempty"`
	ReturnParams       string `json:"return_params,omitempty"`
	Currency           string `json:"currency,omitempty"`
	Signature          string `json:"signature,omitempty"`
}

type canonicalField struct {
	name  string
	value func(PaymentRequest) string
}

var layouts = map[Layout][]canonicalField{
	LayoutCheckoutV1: {
		{"req_time", func(p PaymentRequest) string { return p.RequestTime }},
		{"merchant_id", func(p PaymentRequest) string { return p.MerchantID }},
		{"tran_id", func(p PaymentRequest) string { return p.TransactionID }},
		{"amount", func(p PaymentRequest) string { return p.Amount }},
		{"type", func(p PaymentRequest) string { return p.Type }},
		{"payment_option", func(p PaymentRequest) string { return p.PaymentOption }},
		{"return_url", func(p PaymentRequest) string { return p.ReturnURL }},
		{"cancel_url", func(p PaymentRequest) string { return p.CancelURL }},
		{"currency", func(p PaymentRequest) string { return p.Currency }},
	},
	LayoutPurchaseV1: {
		{"req_time", func(p PaymentRequest) string { return p.RequestTime }},
		{"merchant_id", func(p PaymentRequest) string { return p.MerchantID }},
		{"tran_id", func(p PaymentRequest) string { return p.TransactionID }},
		{"amount", func(p PaymentRequest) string { return p.Amount }},
		{"items", func(p PaymentRequest) string { return p.Items }},
		{"shipping", func(p PaymentRequest) string { return p.Shipping }},
		{"tax", func(p PaymentRequest) string { return p.Tax }},
		{"type", func(p PaymentRequest) string { return p.Type }},
		{"payment_option", func(p PaymentRequest) string { return p.PaymentOption }},
		{"return_url", func(p PaymentRequest) string { return p.ReturnURL }},
		{"cancel_url", func(p PaymentRequest) string { return p.CancelURL }},
		{"continue_success_url", func(p PaymentRequest) string { return p.ContinueSuccessURL }},
		{"return_params", func(p PaymentRequest) string { return p.ReturnParams }},
	},
}

// Canonical concatenates the layout's fields in order, without separators. Absent
// optional fields contribute the empty string.
func (p PaymentRequest) Canonical(layout Layout) (string, error) {
	fields, ok := layouts[layout]
	if !ok {
		return "", fmt.Errorf("unknown canonical layout %q", layout)
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.value(p))
	}
	return b.String(), nil
}

// LayoutFields returns the field names of a layout in signing order.
func LayoutFields(layout Layout) []string {
	fields := layouts[layout]
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.name
	}
	return out
}

// FormatAmount renders an amount with exactly two fraction digits, rounding half to even.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixedBank(2)
}

// FormatRequestTime renders the request time as unix seconds.
func FormatRequestTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
