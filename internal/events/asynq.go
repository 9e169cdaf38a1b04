package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/bakery-payway/internal/obs"
)

const defaultQueue = "events"

// Enqueuer is the part of *asynq.Client used by AsynqPublisher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqPublisher turns events into asynq tasks named after the topic.
type AsynqPublisher struct {
	Client    Enqueuer
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// Name implements Publisher.
func (AsynqPublisher) Name() string { return "asynq" }

// Publish implements Publisher. A conflicting task id means the event was already queued.
func (p AsynqPublisher) Publish(ctx context.Context, ev Event) error {
	if p.Client == nil {
		return errors.New("asynq client not configured")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	queue := p.Queue
	if queue == "" {
		queue = defaultQueue
	}
	maxRetry := p.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 10
	}
	opts := []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(ev.DedupKey()),
	}
	if p.Retention > 0 {
		opts = append(opts, asynq.Retention(p.Retention))
	}
	_, err = p.Client.EnqueueContext(ctx, asynq.NewTask(ev.Topic, raw), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// ReceiptHandler consumes order.paid tasks and records the receipt notification.
type ReceiptHandler struct {
	Logger zerolog.Logger
	Notify func(ctx context.Context, orderID string, payload json.RawMessage) error
}

// ProcessTask implements asynq.Handler.
func (h ReceiptHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		obs.IncCounter(obs.EventsPublishedTotal, "worker", task.Type(), "malformed")
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	if h.Notify != nil {
		if err := h.Notify(ctx, ev.AggregateID, ev.Payload); err != nil {
			return err
		}
	}
	h.Logger.Info().
		Str("event_id", ev.ID).
		Str("order_id", ev.AggregateID).
		Time("occurred_at", ev.OccurredAt).
		Msg("payment receipt notification")
	obs.IncCounter(obs.EventsPublishedTotal, "worker", task.Type(), "ok")
	return nil
}

// NewServeMux registers a consumer for every topic in DefaultTopics.
func NewServeMux(logger zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TopicOrderPaid, ReceiptHandler{Logger: logger})
	mux.HandleFunc(TopicOrderCreated, logTask(logger, "order created"))
	mux.HandleFunc(TopicOrderStatusChanged, logTask(logger, "order status changed"))
	return mux
}

func logTask(logger zerolog.Logger, msg string) func(context.Context, *asynq.Task) error {
	return func(_ context.Context, task *asynq.Task) error {
		if !json.Valid(task.Payload()) {
			obs.IncCounter(obs.EventsPublishedTotal, "worker", task.Type(), "malformed")
			return fmt.Errorf("decode event: invalid json: %w", asynq.SkipRetry)
		}
		logger.Info().RawJSON("event", task.Payload()).Msg(msg)
		obs.IncCounter(obs.EventsPublishedTotal, "worker", task.Type(), "ok")
		return nil
	}
}
