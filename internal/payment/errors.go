package payment

import (
	"errors"
	"fmt"
	"strings"
)

// InvalidRequestError reports caller input that cannot form a payment request.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError lists the server settings that are missing or unusable.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "payment gateway misconfigured: missing " + strings.Join(e.Missing, ", ")
}

// InvalidKeyError reports a private or public key that cannot be parsed.
type InvalidKeyError struct {
	Err error
}

func (e *InvalidKeyError) Error() string {
	if e.Err == nil {
		return "invalid RSA key"
	}
	return "invalid RSA key: " + e.Err.Error()
}

func (e *InvalidKeyError) Unwrap() error { return e.Err }

// SigningError wraps a failure of the underlying signing primitive.
type SigningError struct {
	Profile Profile
	Err     error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign with %s: %v", e.Profile, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// GatewayUnavailableError reports a timeout or transport failure talking to the gateway.
type GatewayUnavailableError struct {
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	return "payment gateway unavailable: " + e.Err.Error()
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// GatewayError is a well-formed refusal returned by the gateway API.
type GatewayError struct {
	Code    string
	Message string
	// Malformed is set when the gateway response could not be decoded.
	Malformed bool
}

func (e *GatewayError) Error() string {
	if e.Malformed {
		return "payment gateway returned an unreadable response"
	}
	return fmt.Sprintf("payment gateway refused request (code %s): %s", e.Code, e.Message)
}

// ErrSignatureMismatch is returned by Verify when the signature does not match.
var ErrSignatureMismatch = errors.New("signature does not match")

// CallbackRejected explains why a callback was acknowledged without mutating any order.
type CallbackRejected struct {
	TransactionID string
	Reason        string
}

func (e *CallbackRejected) Error() string {
	if e.TransactionID == "" {
		return "callback rejected: " + e.Reason
	}
	return fmt.Sprintf("callback for %s rejected: %s", e.TransactionID, e.Reason)
}

// CallbackProcessingFault wraps an internal failure while applying an approved callback.
type CallbackProcessingFault struct {
	TransactionID string
	Err           error
}

func (e *CallbackProcessingFault) Error() string {
	return fmt.Sprintf("callback for %s not applied: %v", e.TransactionID, e.Err)
}

func (e *CallbackProcessingFault) Unwrap() error { return e.Err }
