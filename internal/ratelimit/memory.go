package ratelimit

import (
	"context"
	"strconv"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Store adapts a ulule limiter store to Backend. It keeps fixed windows per key.
type Store struct {
	Store limiter.Store
}

// NewMemoryStore returns an in-process Backend for single-instance deployments.
func NewMemoryStore() Store {
	return Store{Store: memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "bakery-payway",
		CleanUpInterval: time.Minute,
	})}
}

// Allow implements Backend.
func (s Store) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if s.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := limiter.New(s.Store, limiter.Rate{Period: window, Limit: int64(max)})
	// the window is part of the key so routes with different rates do not share counters
	res, err := lim.Get(ctx, key+":"+strconv.FormatInt(int64(window/time.Millisecond), 10))
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
