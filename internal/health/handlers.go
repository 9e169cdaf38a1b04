package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/bakery-payway/internal/common"
)

const statusDisabled = "disabled"

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness, used to drain traffic during shutdown.
func SetReady(v bool) { ready.Store(v) }

// Checker represents dependencies that can be probed for readiness. Implementations return
// ErrDisabled for components that are not configured.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// ErrDisabled marks an optional component that is not configured. It counts as healthy.
var ErrDisabled = disabledError{}

type disabledError struct{}

func (disabledError) Error() string { return statusDisabled }

// Probes pings the optional Postgres pool and Redis client.
type Probes struct {
	DB    *pgxpool.Pool
	Redis redis.Cmdable
}

// PingDB implements Checker.
func (p Probes) PingDB(ctx context.Context, timeout time.Duration) error {
	if p.DB == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.DB.Ping(ctx)
}

// PingRedis implements Checker.
func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}
	ctx := r.Context()
	dbStatus := probeStatus(h.Checker.PingDB(ctx, h.dbTimeout()))
	redisStatus := probeStatus(h.Checker.PingRedis(ctx, h.redisTimeout()))
	code := http.StatusOK
	if !healthy(dbStatus) || !healthy(redisStatus) {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, map[string]string{
		"db":    dbStatus,
		"redis": redisStatus,
	})
}

func probeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case err == ErrDisabled:
		return statusDisabled
	default:
		return err.Error()
	}
}

func healthy(status string) bool {
	return status == "ok" || status == statusDisabled
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
