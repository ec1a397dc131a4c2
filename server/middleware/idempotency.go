package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SaurabhJain708/formbricks/http/response"
	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	processingMarker  = "PROCESSING"
)

type IdempotencyConfig struct {
	HeaderKey string
	Expiry    time.Duration
	// Required rejects unsafe requests that carry no key.
	Required bool
	Redis    redis.Cmdable
	Logger   *slog.Logger
}

// StoredResponse is the replayed response kept in Redis.
type StoredResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body"`
}

type responseCapturer struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (w *responseCapturer) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseCapturer) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the first completed response for a
// (principal, key) pair. A concurrent duplicate gets 409.
func IdempotencyMiddleware(cfg IdempotencyConfig) func(http.Handler) http.Handler {
	if cfg.HeaderKey == "" {
		cfg.HeaderKey = IdempotencyHeader
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(cfg.HeaderKey)
			if key == "" {
				if cfg.Required {
					response.Fail(w, r, response.ErrMissingField, cfg.HeaderKey+" header is required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Keys are scoped to the principal so tenants never collide.
			principalID := contextx.GetAuthPrincipalID(r.Context())
			if principalID == "" {
				principalID = "anon_ip:" + getRealIP(r)
			}
			redisKey := "idempotency:" + principalID + ":" + r.URL.Path + ":" + key
			ctx := contextx.WithIdempotencyKey(r.Context(), key)

			acquired, err := cfg.Redis.SetNX(ctx, redisKey, processingMarker, 30*time.Second).Result()
			if err != nil {
				cfg.Logger.ErrorContext(ctx, "idempotency: redis error", "error", err)
				response.Fail(w, r, response.ErrServiceUnavail, "idempotency store unavailable")
				return
			}

			if !acquired {
				val, err := cfg.Redis.Get(ctx, redisKey).Result()
				switch {
				case errors.Is(err, redis.Nil):
					// Expired between SETNX and GET; treat as new.
				case err != nil:
					response.Fail(w, r, response.ErrServiceUnavail, "idempotency store unavailable")
					return
				case val == processingMarker:
					response.Fail(w, r, response.ErrConflict, "request is currently being processed")
					return
				default:
					var stored StoredResponse
					if jsonErr := json.Unmarshal([]byte(val), &stored); jsonErr == nil {
						cfg.Logger.InfoContext(ctx, "Idempotency Hit", "key", key, "principal", principalID)
						for k, v := range stored.Headers {
							for _, hv := range v {
								w.Header().Add(k, hv)
							}
						}
						w.Header().Set("X-Idempotency-Hit", "true")
						w.WriteHeader(stored.Status)
						_, _ = w.Write(stored.Body)
						return
					}
					cfg.Logger.WarnContext(ctx, "Idempotency cache corrupted, reprocessing", "key", redisKey)
				}
			}

			capturer := &responseCapturer{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capturer, r.WithContext(ctx))

			if capturer.statusCode >= 500 {
				cfg.Redis.Del(ctx, redisKey)
				return
			}

			data, err := json.Marshal(StoredResponse{
				Status:  capturer.statusCode,
				Headers: capturer.Header(),
				Body:    capturer.body.Bytes(),
			})
			if err != nil {
				cfg.Redis.Del(ctx, redisKey)
				return
			}
			cfg.Redis.Set(ctx, redisKey, data, cfg.Expiry)
		})
	}
}
