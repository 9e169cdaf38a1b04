package payment_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bakery-payway/internal/payment"
)

func sampleRequest() payment.PaymentRequest {
	return payment.PaymentRequest{
		RequestTime:   "1700000000",
		MerchantID:    "bakery",
		TransactionID: "ORD123",
		Amount:        "24.00",
		Type:          "purchase",
		PaymentOption: "abapay",
		ReturnURL:     "https://shop.test/checkout?status=success&id=ORD123",
		CancelURL:     "https://shop.test/checkout?status=cancel&id=ORD123",
		Currency:      "USD",
	}
}

func TestCanonicalCheckoutLayout(t *testing.T) {
	got, err := sampleRequest().Canonical(payment.LayoutCheckoutV1)
	require.NoError(t, err)
	require.Equal(t,
		"1700000000bakeryORD12324.00purchaseabapay"+
			"https://shop.test/checkout?status=success&id=ORD123"+
			"https://shop.test/checkout?status=cancel&id=ORD123USD",
		got)
}

func TestCanonicalIsDeterministic(t *testing.T) {
	req := sampleRequest()
	first, err := req.Canonical(payment.LayoutPurchaseV1)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := req.Canonical(payment.LayoutPurchaseV1)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestCanonicalDependsOnFieldOrder(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	// Same values, different fields: the layout position must show through.
	a.Items, a.Tax = "x", ""
	b.Items, b.Tax = "", "x"
	ca, err := a.Canonical(payment.LayoutPurchaseV1)
	require.NoError(t, err)
	cb, err := b.Canonical(payment.LayoutPurchaseV1)
	require.NoError(t, err)
	require.NotEqual(t, ca, cb)
}

func TestCanonicalPurchaseOmitsCurrencyAndKeepsOptionalSlots(t *testing.T) {
	req := payment.PaymentRequest{RequestTime: "1", MerchantID: "m", TransactionID: "t", Amount: "2.00", ReturnParams: "rp", Currency: "USD"}
	got, err := req.Canonical(payment.LayoutPurchaseV1)
	require.NoError(t, err)
	require.Equal(t, "1mt2.00rp", got)
}

func TestCanonicalUnknownLayout(t *testing.T) {
	_, err := sampleRequest().Canonical("checkout.v0")
	require.Error(t, err)
}

func TestLayoutFields(t *testing.T) {
	require.Equal(t, []string{
		"req_time", "merchant_id", "tran_id", "amount", "type",
		"payment_option", "return_url", "cancel_url", "currency",
	}, payment.LayoutFields(payment.LayoutCheckoutV1))
	require.Len(t, payment.LayoutFields(payment.LayoutPurchaseV1), 13)
	require.Empty(t, payment.LayoutFields("nope"))
}

func TestFormatAmountRoundsHalfEven(t *testing.T) {
	cases := map[string]string{
		"19":      "19.00",
		"19.5":    "19.50",
		"19.004":  "19.00",
		"19.005":  "19.00",
		"19.015":  "19.02",
		"19.025":  "19.02",
		"19.0051": "19.01",
		"0.1":     "0.10",
	}
	for in, want := range cases {
		require.Equal(t, want, payment.FormatAmount(decimal.RequireFromString(in)), in)
	}
}

func TestFormatRequestTime(t *testing.T) {
	require.Equal(t, "1700000000", payment.FormatRequestTime(time.Unix(1700000000, 999).UTC()))
}
