package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	idemPending     = "pending"
	idemReplayedHdr = "Idempotent-Replayed"
	maxStoredBody   = 64 << 10
)

// Idem makes write endpoints safe to retry under an Idempotency-Key header. The first
// response for a key is stored and replayed to later requests with the same key; a request
// arriving while the first is still running gets 409. Server errors are not stored.
type Idem struct {
	R   redis.Cmdable
	TTL time.Duration
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

func (i Idem) redisKey(r *http.Request, key string) string {
	sum := sha256.Sum256([]byte(r.Method + " " + r.URL.Path + " " + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.redisKey(r, header)

		claimed, err := i.R.SetNX(ctx, key, idemPending, i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable", nil)
			return
		}
		if !claimed {
			i.replay(ctx, w, key)
			return
		}

		rec := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				_ = i.R.Del(context.Background(), key).Err()
				panic(p)
			}
		}()
		next.ServeHTTP(rec, r)
		i.settle(key, rec)
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	var stored storedResponse
	if err != nil || string(raw) == idemPending || json.Unmarshal(raw, &stored) != nil {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "request with this key is still in progress", nil)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(idemReplayedHdr, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

// settle runs after the handler returns, so it must not depend on the request context.
func (i Idem) settle(key string, rec *bufferedWriter) {
	ctx := context.Background()
	if rec.status >= http.StatusInternalServerError || rec.body.Len() > maxStoredBody {
		_ = i.R.Del(ctx, key).Err()
		return
	}
	payload, err := json.Marshal(storedResponse{
		Status:      rec.status,
		ContentType: rec.Header().Get("Content-Type"),
		Body:        rec.body.Bytes(),
	})
	if err != nil {
		_ = i.R.Del(ctx, key).Err()
		return
	}
	_ = i.R.Set(ctx, key, payload, i.TTL).Err()
}

type bufferedWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.body.Len() <= maxStoredBody {
		b.body.Write(p)
	}
	return b.ResponseWriter.Write(p)
}
