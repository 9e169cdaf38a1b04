package payment

import (
	"net/url"
	"strings"

	"github.com/noah-isme/bakery-payway/internal/config"
)

const (
	// PaymentTypePurchase is the only transaction type the storefront issues.
	PaymentTypePurchase = "purchase"
	defaultCurrency     = "USD"
	defaultOption       = "abapay"
)

// Gateway holds the trusted merchant settings used to build signed requests. None of these
// values ever come from the request body.
type Gateway struct {
	MerchantID    string
	PrivateKey    string
	PublicKey     string
	CheckoutURL   string
	QRAPIURL      string
	CallbackURL   string
	PublicBaseURL string
	Currency      string
	PaymentOption string
	Profile       Profile
}

// GatewayFromConfig maps application configuration onto gateway settings.
func GatewayFromConfig(cfg *config.Config) Gateway {
	if cfg == nil {
		return Gateway{}
	}
	profile := ProfileRSASHA512
	if p, err := ParseProfile(cfg.PayWay.SigningProfile); err == nil {
		profile = p
	}
	return Gateway{
		MerchantID:    cfg.PayWay.MerchantID,
		PrivateKey:    cfg.PayWay.PrivateKey,
		PublicKey:     cfg.PayWay.PublicKey,
		CheckoutURL:   cfg.PayWay.CheckoutURL,
		QRAPIURL:      cfg.PayWay.QRAPIURL,
		CallbackURL:   cfg.PayWay.CallbackURL,
		PublicBaseURL: cfg.PublicBaseURL,
		Currency:      cfg.PayWay.Currency,
		PaymentOption: cfg.PayWay.PaymentOption,
		Profile:       profile,
	}
}

// checkCheckout reports the settings the hosted checkout cannot run without.
func (g Gateway) checkCheckout() error {
	var missing []string
	if strings.TrimSpace(g.MerchantID) == "" {
		missing = append(missing, "PAYWAY_MERCHANT_ID")
	}
	if strings.TrimSpace(g.PrivateKey) == "" {
		missing = append(missing, "PAYWAY_PRIVATE_KEY")
	}
	if strings.TrimSpace(g.CheckoutURL) == "" {
		missing = append(missing, "PAYWAY_CHECKOUT_URL")
	}
	if strings.TrimSpace(g.PublicBaseURL) == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

func (g Gateway) checkQR() error {
	var missing []string
	if strings.TrimSpace(g.MerchantID) == "" {
		missing = append(missing, "PAYWAY_MERCHANT_ID")
	}
	if strings.TrimSpace(g.PrivateKey) == "" {
		missing = append(missing, "PAYWAY_PRIVATE_KEY")
	}
	if strings.TrimSpace(g.QRAPIURL) == "" {
		missing = append(missing, "PAYWAY_QR_API_URL")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

func (g Gateway) callbackURL() string {
	if u := strings.TrimSpace(g.CallbackURL); u != "" {
		return u
	}
	return strings.TrimRight(g.PublicBaseURL, "/") + "/callback"
}

func (g Gateway) currency() string {
	if c := strings.TrimSpace(g.Currency); c != "" {
		return strings.ToUpper(c)
	}
	return defaultCurrency
}

func (g Gateway) paymentOption() string {
	if o := strings.TrimSpace(g.PaymentOption); o != "" {
		return o
	}
	return defaultOption
}

// ReturnURL is where the shopper lands after a successful payment.
func (g Gateway) ReturnURL(orderID string) string {
	return g.checkoutPage("success", orderID)
}

// CancelURL is where the shopper lands after abandoning the payment.
func (g Gateway) CancelURL(orderID string) string {
	return g.checkoutPage("cancel", orderID)
}

func (g Gateway) checkoutPage(status, orderID string) string {
	base := strings.TrimRight(g.PublicBaseURL, "/")
	return base + "/checkout?status=" + status + "&id=" + url.QueryEscape(orderID)
}
