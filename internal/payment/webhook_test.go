package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bakery-payway/internal/order"
	"github.com/noah-isme/bakery-payway/internal/payment"
)

type emitted struct {
	topic string
	id    string
	body  any
}

type recordingEmitter struct {
	events []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, topic, aggregateID string, payload any) error {
	r.events = append(r.events, emitted{topic: topic, id: aggregateID, body: payload})
	return nil
}

type brokenStore struct{}

func (brokenStore) Transition(context.Context, order.TransitionRequest) (order.Order, error) {
	return order.Order{}, errors.New("connection reset")
}

func seededStore(status order.Status) *order.MemoryStore {
	store := order.NewMemoryStore()
	store.Put(order.Order{
		ID:            "ORD123",
		UserID:        "u1",
		Total:         decimal.RequireFromString("24.00"),
		PaymentMethod: "aba",
		Status:        status,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	})
	return store
}

func newReceiver(orders payment.OrderTransitioner) (*payment.Receiver, *recordingEmitter) {
	events := &recordingEmitter{}
	return &payment.Receiver{
		Orders:         orders,
		GuardCancelled: true,
		Events:         events,
		Logger:         zerolog.Nop(),
	}, events
}

func TestIsApproved(t *testing.T) {
	for _, s := range []string{"0", "00", "OK", "ok", "APPR", "appr", " 0 "} {
		require.True(t, payment.IsApproved(s), s)
	}
	for _, s := range []string{"", "1", "000", "FAILED", "APPROVED", "11"} {
		require.False(t, payment.IsApproved(s), s)
	}
}

func TestApprovedCallbackIsIdempotent(t *testing.T) {
	store := seededStore(order.StatusPending)
	recv, events := newReceiver(store)
	ctx := context.Background()

	res := recv.HandleNotification(ctx, payment.Notification{TransactionID: "ORD123", Status: "0"})
	require.Equal(t, payment.OutcomeApplied, res.Outcome)
	after, err := store.Get(ctx, "ORD123")
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, after.Status)

	for i := 0; i < 3; i++ {
		res := recv.HandleNotification(ctx, payment.Notification{TransactionID: "ORD123", Status: "APPR"})
		require.Equal(t, payment.OutcomeDuplicate, res.Outcome)
		again, err := store.Get(ctx, "ORD123")
		require.NoError(t, err)
		require.Equal(t, after, again)
	}
	require.Len(t, events.events, 1)
	require.Equal(t, order.TopicPaid, events.events[0].topic)
	require.Equal(t, "ORD123", events.events[0].id)
}

func TestRejectedCallbacksNeverMutate(t *testing.T) {
	store := seededStore(order.StatusPending)
	recv, events := newReceiver(store)
	ctx := context.Background()
	before, _ := store.Get(ctx, "ORD123")

	for _, n := range []payment.Notification{
		{TransactionID: "ORD123", Status: "1"},
		{TransactionID: "ORD123", Status: "DECLINED"},
		{TransactionID: "", Status: "0"},
		{TransactionID: "   ", Status: "OK"},
	} {
		for i := 0; i < 3; i++ {
			res := recv.HandleNotification(ctx, n)
			require.Equal(t, payment.OutcomeRejected, res.Outcome)
			var rej *payment.CallbackRejected
			require.ErrorAs(t, res.Err, &rej)
		}
	}
	after, _ := store.Get(ctx, "ORD123")
	require.Equal(t, before, after)
	require.Empty(t, events.events)
}

func TestCallbackHashIsEnforcedWhenKeyConfigured(t *testing.T) {
	store := seededStore(order.StatusPending)
	recv, _ := newReceiver(store)
	recv.APIKey = "secret"
	ctx := context.Background()

	n := payment.Notification{TransactionID: "ORD123", Status: "0", APV: "123456", ReturnParams: "rp"}
	require.Equal(t, payment.OutcomeRejected, recv.HandleNotification(ctx, n).Outcome)

	n.Hash = payment.CallbackHash("other", n)
	require.Equal(t, payment.OutcomeRejected, recv.HandleNotification(ctx, n).Outcome)
	o, _ := store.Get(ctx, "ORD123")
	require.Equal(t, order.StatusPending, o.Status)

	n.Hash = payment.CallbackHash("secret", n)
	require.Equal(t, payment.OutcomeApplied, recv.HandleNotification(ctx, n).Outcome)
}

func TestCallbackRequireHashWithoutKeyIsFault(t *testing.T) {
	store := seededStore(order.StatusPending)
	recv, _ := newReceiver(store)
	recv.RequireHash = true

	res := recv.HandleNotification(context.Background(), payment.Notification{TransactionID: "ORD123", Status: "0"})
	require.Equal(t, payment.OutcomeFault, res.Outcome)
	var cfgErr *payment.ConfigurationError
	require.ErrorAs(t, res.Err, &cfgErr)
	o, _ := store.Get(context.Background(), "ORD123")
	require.Equal(t, order.StatusPending, o.Status)
}

func TestCallbackDoesNotResurrectCancelledOrder(t *testing.T) {
	store := seededStore(order.StatusCancelled)
	recv, events := newReceiver(store)

	res := recv.HandleNotification(context.Background(), payment.Notification{TransactionID: "ORD123", Status: "0"})
	require.Equal(t, payment.OutcomeConflict, res.Outcome)
	o, _ := store.Get(context.Background(), "ORD123")
	require.Equal(t, order.StatusCancelled, o.Status)
	require.Empty(t, events.events)
}

func TestCallbackLeavesDeliveredOrderAlone(t *testing.T) {
	store := seededStore(order.StatusDelivered)
	recv, _ := newReceiver(store)
	res := recv.HandleNotification(context.Background(), payment.Notification{TransactionID: "ORD123", Status: "0"})
	require.Equal(t, payment.OutcomeDuplicate, res.Outcome)
	o, _ := store.Get(context.Background(), "ORD123")
	require.Equal(t, order.StatusDelivered, o.Status)
}

func TestCallbackWithoutGuardOverwrites(t *testing.T) {
	store := seededStore(order.StatusCancelled)
	recv, _ := newReceiver(store)
	recv.GuardCancelled = false
	res := recv.HandleNotification(context.Background(), payment.Notification{TransactionID: "ORD123", Status: "0"})
	require.Equal(t, payment.OutcomeApplied, res.Outcome)
	require.Equal(t, order.StatusPaid, res.Order.Status)
}

func TestCallbackStoreFailuresAreFaults(t *testing.T) {
	recv, _ := newReceiver(order.NewMemoryStore())
	res := recv.HandleNotification(context.Background(), payment.Notification{TransactionID: "MISSING", Status: "0"})
	require.Equal(t, payment.OutcomeFault, res.Outcome)
	require.ErrorIs(t, res.Err, order.ErrNotFound)

	recv, _ = newReceiver(brokenStore{})
	res = recv.HandleNotification(context.Background(), payment.Notification{TransactionID: "ORD123", Status: "0"})
	require.Equal(t, payment.OutcomeFault, res.Outcome)
	var f *payment.CallbackProcessingFault
	require.ErrorAs(t, res.Err, &f)
	require.Equal(t, "ORD123", f.TransactionID)
}

func TestCallbackReplayGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := seededStore(order.StatusPending)
	recv, events := newReceiver(store)
	recv.Replay = payment.RedisReplayGuard{Client: client}
	recv.ReplayTTL = time.Minute
	ctx := context.Background()
	n := payment.Notification{TransactionID: "ORD123", Status: "0"}

	require.Equal(t, payment.OutcomeApplied, recv.HandleNotification(ctx, n).Outcome)
	require.Equal(t, payment.OutcomeDuplicate, recv.HandleNotification(ctx, n).Outcome)
	require.Len(t, mr.Keys(), 1)
	require.Len(t, events.events, 1)

	mr.FastForward(2 * time.Minute)
	require.Empty(t, mr.Keys())
	require.Equal(t, payment.OutcomeDuplicate, recv.HandleNotification(ctx, n).Outcome)
}

func TestCallbackReplayKeyReleasedOnFault(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := order.NewMemoryStore()
	recv, _ := newReceiver(store)
	recv.Replay = payment.RedisReplayGuard{Client: client}
	ctx := context.Background()
	n := payment.Notification{TransactionID: "ORD123", Status: "0"}

	require.Equal(t, payment.OutcomeFault, recv.HandleNotification(ctx, n).Outcome)
	require.Empty(t, mr.Keys())

	store.Put(order.Order{ID: "ORD123", Total: decimal.NewFromInt(1), Status: order.StatusPending})
	require.Equal(t, payment.OutcomeApplied, recv.HandleNotification(ctx, n).Outcome)
}

func TestConfirmManual(t *testing.T) {
	store := seededStore(order.StatusPending)
	recv, events := newReceiver(store)
	ctx := context.Background()

	require.Equal(t, payment.OutcomeRejected, recv.ConfirmManual(ctx, " ").Outcome)

	res := recv.ConfirmManual(ctx, "ORD123")
	require.Equal(t, payment.OutcomeApplied, res.Outcome)
	require.Equal(t, order.StatusPaid, res.Order.Status)
	require.Equal(t, payment.OutcomeDuplicate, recv.ConfirmManual(ctx, "ORD123").Outcome)

	require.Len(t, events.events, 1)
	paid, ok := events.events[0].body.(payment.PaidEvent)
	require.True(t, ok)
	require.Equal(t, payment.SourceManual, paid.Source)
}
