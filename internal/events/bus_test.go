package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bakery-payway/internal/events"
)

type capturePublisher struct {
	name   string
	events []events.Event
	err    error
}

func (c *capturePublisher) Name() string { return c.name }

func (c *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return c.err
}

type captureEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{}, c.err
}

func fixedClock() time.Time {
	return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
}

func TestBusFansOutToPublishers(t *testing.T) {
	first := &capturePublisher{name: "first"}
	second := &capturePublisher{name: "second"}
	bus := &events.Bus{Publishers: []events.Publisher{first, second}, Clock: fixedClock, Logger: zerolog.Nop()}

	ev, err := bus.Publish(context.Background(), events.TopicOrderPaid, "ord-1", map[string]any{"orderId": "ord-1"})
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderPaid, ev.Topic)
	require.Equal(t, fixedClock(), ev.OccurredAt)
	require.JSONEq(t, `{"orderId":"ord-1"}`, string(ev.Payload))
	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	require.Equal(t, ev.ID, second.events[0].ID)
}

func TestBusJoinsPublisherErrors(t *testing.T) {
	failing := &capturePublisher{name: "broken", err: errors.New("down")}
	healthy := &capturePublisher{name: "ok"}
	bus := &events.Bus{Publishers: []events.Publisher{failing, healthy}, Logger: zerolog.Nop()}

	err := bus.Emit(context.Background(), events.TopicOrderCreated, "ord-1", nil)
	require.ErrorContains(t, err, "broken")
	require.Len(t, healthy.events, 1)
	require.JSONEq(t, `{}`, string(healthy.events[0].Payload))
}

func TestBusValidatesInput(t *testing.T) {
	bus := &events.Bus{}
	require.Error(t, bus.Emit(context.Background(), "", "ord-1", nil))
	require.Error(t, bus.Emit(context.Background(), events.TopicOrderPaid, " ", nil))
	require.Error(t, bus.Emit(context.Background(), events.TopicOrderPaid, "ord-1", "not json"))
}

func TestDedupKeyForPaidEvents(t *testing.T) {
	paid := events.Event{ID: "e1", Topic: events.TopicOrderPaid, AggregateID: "ord-9"}
	require.Equal(t, "order.paid:ord-9", paid.DedupKey())
	created := events.Event{ID: "e2", Topic: events.TopicOrderCreated, AggregateID: "ord-9"}
	require.Equal(t, "e2", created.DedupKey())
}

func TestAsynqPublisherTreatsConflictAsDelivered(t *testing.T) {
	enq := &captureEnqueuer{}
	pub := events.AsynqPublisher{Client: enq}
	ev := events.Event{ID: "e1", Topic: events.TopicOrderPaid, AggregateID: "ord-1", Payload: json.RawMessage(`{}`)}

	require.NoError(t, pub.Publish(context.Background(), ev))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, events.TopicOrderPaid, enq.tasks[0].Type())

	enq.err = asynq.ErrTaskIDConflict
	require.NoError(t, pub.Publish(context.Background(), ev))

	enq.err = errors.New("redis down")
	require.Error(t, pub.Publish(context.Background(), ev))
}

func TestKafkaPublisherKeysByAggregate(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "bakery.order-paid" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "ord-1" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})
	pub := events.KafkaPublisher{Producer: producer, Topics: map[string]string{events.TopicOrderPaid: "bakery.order-paid"}}

	err := pub.Publish(context.Background(), events.Event{ID: "e1", Topic: events.TopicOrderPaid, AggregateID: "ord-1", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestReceiptHandlerProcessesPaidTask(t *testing.T) {
	var buf bytes.Buffer
	var notified string
	handler := events.ReceiptHandler{
		Logger: zerolog.New(&buf),
		Notify: func(_ context.Context, orderID string, _ json.RawMessage) error {
			notified = orderID
			return nil
		},
	}
	raw, _ := json.Marshal(events.Event{ID: "e1", Topic: events.TopicOrderPaid, AggregateID: "ord-7", Payload: json.RawMessage(`{}`)})

	require.NoError(t, handler.ProcessTask(context.Background(), asynq.NewTask(events.TopicOrderPaid, raw)))
	require.Equal(t, "ord-7", notified)
	require.Contains(t, buf.String(), "payment receipt notification")

	err := handler.ProcessTask(context.Background(), asynq.NewTask(events.TopicOrderPaid, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestServeMuxConsumesEveryTopic(t *testing.T) {
	var buf bytes.Buffer
	mux := events.NewServeMux(zerolog.New(&buf))
	for _, topic := range events.DefaultTopics() {
		raw, err := json.Marshal(events.Event{ID: "e-" + topic, Topic: topic, AggregateID: "ord-9", Payload: json.RawMessage(`{}`)})
		require.NoError(t, err)
		require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(topic, raw)), topic)
	}
	require.Contains(t, buf.String(), "order created")

	err := mux.ProcessTask(context.Background(), asynq.NewTask(events.TopicOrderCreated, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLogPublisherWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	pub := events.LogPublisher{Logger: zerolog.New(&buf)}
	require.NoError(t, pub.Publish(context.Background(), events.Event{ID: "e1", Topic: events.TopicOrderPaid, AggregateID: "ord-1", Payload: json.RawMessage(`{"a":1}`)}))
	require.Contains(t, buf.String(), `"aggregate_id":"ord-1"`)
}
