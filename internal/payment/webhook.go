package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/bakery-payway/internal/obs"
	"github.com/noah-isme/bakery-payway/internal/order"
)

// Callback sources, used as metric and log labels.
const (
	SourceGateway = "gateway"
	SourceManual  = "manual"
)

// Outcome classifies how a callback was handled.
type Outcome string

const (
	// OutcomeApplied means the order moved to paid.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the order was already settled or the notification was replayed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeConflict means the order is cancelled and was left untouched.
	OutcomeConflict Outcome = "conflict"
	// OutcomeRejected means the notification failed validation. Nothing was mutated.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFault means an internal failure prevented the update.
	OutcomeFault Outcome = "fault"
)

// Notification is the gateway's push notification.
type Notification struct {
	TransactionID string `json:"tran_id"`
	Status        string `json:"status"`
	APV           string `json:"apv,omitempty"`
	ReturnParams  string `json:"return_params,omitempty"`
	Hash          string `json:"hash,omitempty"`
}

// Result reports the outcome of a callback. Err is a *CallbackRejected or a
// *CallbackProcessingFault when Outcome says so.
type Result struct {
	Outcome Outcome
	Order   order.Order
	Err     error
}

// OrderTransitioner is the slice of the order store the callback path needs.
type OrderTransitioner interface {
	Transition(ctx context.Context, req order.TransitionRequest) (order.Order, error)
}

// ReplayGuard remembers notifications already processed.
type ReplayGuard interface {
	// Claim returns false when key was already claimed within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Receiver applies gateway callbacks and manual confirmations to orders.
type Receiver struct {
	Orders OrderTransitioner
	// APIKey is the shared callback secret. When set every notification must carry a valid hash.
	APIKey string
	// RequireHash turns a missing APIKey into a processing fault.
	RequireHash bool
	// GuardCancelled keeps cancelled (and delivered) orders from being moved back to paid.
	GuardCancelled bool
	Replay         ReplayGuard
	ReplayTTL      time.Duration
	Events         order.Emitter
	Logger         zerolog.Logger
}

// PaidEvent is the payload of order.paid events.
type PaidEvent struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Source        string `json:"source"`
	APV           string `json:"apv,omitempty"`
}

// IsApproved reports whether status is one of the gateway's approval sentinels.
func IsApproved(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "0", "00", "OK", "APPR":
		return true
	}
	return false
}

// CallbackHash computes base64(HMAC-SHA512(apiKey, tran_id+apv+status+return_params)).
func CallbackHash(apiKey string, n Notification) string {
	mac := hmac.New(sha512.New, []byte(apiKey))
	mac.Write([]byte(n.TransactionID + n.APV + n.Status + n.ReturnParams))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// HandleNotification validates an asynchronous gateway notification and marks the order paid.
func (r *Receiver) HandleNotification(ctx context.Context, n Notification) Result {
	ctx, span := otel.Tracer("payment.Receiver").Start(ctx, "Receiver.HandleNotification")
	defer span.End()

	n.TransactionID = strings.TrimSpace(n.TransactionID)
	n.Status = strings.TrimSpace(n.Status)
	span.SetAttributes(attribute.String("order.id", n.TransactionID))

	res := r.handle(ctx, n)
	span.SetAttributes(attribute.String("payway.callback.outcome", string(res.Outcome)))
	r.record(SourceGateway, n.TransactionID, res)
	return res
}

func (r *Receiver) handle(ctx context.Context, n Notification) Result {
	if n.TransactionID == "" {
		return rejected("", "missing tran_id")
	}
	if key := strings.TrimSpace(r.APIKey); key != "" {
		expected := CallbackHash(key, n)
		if n.Hash == "" || !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(n.Hash))) {
			return rejected(n.TransactionID, "hash mismatch")
		}
	} else if r.RequireHash {
		return fault(n.TransactionID, &ConfigurationError{Missing: []string{"PAYWAY_API_KEY"}})
	}
	if !IsApproved(n.Status) {
		return rejected(n.TransactionID, "status "+n.Status+" is not approved")
	}

	replayKey := callbackReplayKey(n)
	claimed := false
	if r.Replay != nil {
		ok, err := r.Replay.Claim(ctx, replayKey, r.replayTTL())
		switch {
		case err != nil:
			r.Logger.Warn().Err(err).Str("order_id", n.TransactionID).Msg("callback replay guard unavailable")
		case !ok:
			return Result{Outcome: OutcomeDuplicate}
		default:
			claimed = true
		}
	}

	res := r.markPaid(ctx, n.TransactionID, SourceGateway, n.APV)
	if res.Outcome == OutcomeFault && claimed {
		if err := r.Replay.Release(ctx, replayKey); err != nil {
			r.Logger.Warn().Err(err).Str("order_id", n.TransactionID).Msg("release callback replay key")
		}
	}
	return res
}

// ConfirmManual marks an order paid from the gated GET path whenever an id is given.
func (r *Receiver) ConfirmManual(ctx context.Context, orderID string) Result {
	ctx, span := otel.Tracer("payment.Receiver").Start(ctx, "Receiver.ConfirmManual")
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	span.SetAttributes(attribute.String("order.id", orderID))
	res := rejected("", "missing orderId")
	if orderID != "" {
		res = r.markPaid(ctx, orderID, SourceManual, "")
	}
	r.record(SourceManual, orderID, res)
	return res
}

func (r *Receiver) markPaid(ctx context.Context, orderID, source, apv string) Result {
	if r.Orders == nil {
		return fault(orderID, errors.New("order store not configured"))
	}
	req := order.TransitionRequest{ID: orderID, To: order.StatusPaid}
	if r.GuardCancelled {
		req.From = []order.Status{order.StatusPending}
	}
	o, err := r.Orders.Transition(ctx, req)
	if err != nil {
		var te *order.TransitionError
		if errors.As(err, &te) {
			switch te.From {
			case order.StatusPaid, order.StatusDelivered:
				return Result{Outcome: OutcomeDuplicate}
			case order.StatusCancelled:
				return Result{Outcome: OutcomeConflict}
			}
		}
		return fault(orderID, err)
	}

	obs.IncCounter(obs.OrderTransitionsTotal, string(order.StatusPaid), "payway_"+source)
	if r.Events != nil {
		payload := PaidEvent{OrderID: o.ID, TransactionID: orderID, Source: source, APV: apv}
		if err := r.Events.Emit(ctx, order.TopicPaid, o.ID, payload); err != nil {
			r.Logger.Error().Err(err).Str("order_id", o.ID).Msg("publish order.paid")
		}
	}
	return Result{Outcome: OutcomeApplied, Order: o}
}

func (r *Receiver) record(source, orderID string, res Result) {
	obs.IncCounter(obs.PayWayCallbackTotal, source, string(res.Outcome))
	var ev *zerolog.Event
	switch res.Outcome {
	case OutcomeFault:
		ev = r.Logger.Error().Err(res.Err)
	case OutcomeRejected:
		ev = r.Logger.Warn().Err(res.Err)
	case OutcomeConflict:
		ev = r.Logger.Warn()
	default:
		ev = r.Logger.Info()
	}
	ev.Str("source", source).
		Str("order_id", orderID).
		Str("outcome", string(res.Outcome)).
		Msg("payway callback handled")
}

func (r *Receiver) replayTTL() time.Duration {
	if r.ReplayTTL > 0 {
		return r.ReplayTTL
	}
	return 10 * time.Minute
}

func rejected(id, reason string) Result {
	return Result{Outcome: OutcomeRejected, Err: &CallbackRejected{TransactionID: id, Reason: reason}}
}

func fault(id string, err error) Result {
	return Result{Outcome: OutcomeFault, Err: &CallbackProcessingFault{TransactionID: id, Err: err}}
}

// RedisReplayGuard claims keys with SETNX.
type RedisReplayGuard struct {
	Client redis.Cmdable
}

// Claim implements ReplayGuard.
func (g RedisReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.Client.SetNX(ctx, key, "1", ttl).Result()
}

// Release implements ReplayGuard.
func (g RedisReplayGuard) Release(ctx context.Context, key string) error {
	return g.Client.Del(ctx, key).Err()
}

// callbackReplayKey fingerprints the fields that make a notification unique.
func callbackReplayKey(n Notification) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{n.TransactionID, n.Status, n.APV, n.ReturnParams}, "|")))
	return "payway:callback:" + hex.EncodeToString(sum[:])
}
