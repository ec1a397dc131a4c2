package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SaurabhJain708/formbricks/http/response"
	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

// luaGCRA implements the Generic Cell Rate Algorithm. It returns -1 when the
// request is allowed, otherwise the seconds to wait.
var luaGCRA = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local period = tonumber(ARGV[2])
	local burst = tonumber(ARGV[3])

	local emission_interval = period / rate
	local now = redis.call("TIME")
	local now_ts = tonumber(now[1]) + (tonumber(now[2]) / 1000000)

	local tat = redis.call("GET", key)
	if not tat then
		tat = now_ts
	else
		tat = tonumber(tat)
	end

	tat = math.max(now_ts, tat)

	local new_tat = tat + emission_interval
	local allow_at = new_tat - (burst * emission_interval)

	if allow_at <= now_ts then
		redis.call("SET", key, new_tat, "EX", math.ceil(period * 2))
		return -1
	end

	return math.ceil(allow_at - now_ts)
`)

type RateLimitConfig struct {
	Rate   int           `envconfig:"AUDIT_API_RATE" default:"20"`
	Period time.Duration `envconfig:"AUDIT_API_RATE_PERIOD" default:"1m"`
	Burst  int           `envconfig:"AUDIT_API_RATE_BURST" default:"5"`
}

// RateLimitMiddleware limits operator API calls per principal, or per client
// IP before authentication. It fails open when Redis is unreachable.
func RateLimitMiddleware(rdb redis.Scripter, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg.Rate <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rl:audit:" + identityOf(r)

			res, err := luaGCRA.Run(r.Context(), rdb, []string{key}, cfg.Rate, cfg.Period.Seconds(), cfg.Burst).Int64()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Rate))
			if res >= 0 {
				w.Header().Set("Retry-After", strconv.FormatInt(res, 10))
				response.Fail(w, r, response.ErrRateLimit, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identityOf(r *http.Request) string {
	if id := contextx.GetAuthPrincipalID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + getRealIP(r)
}

// getRealIP returns the address RequestMetadata resolved, or the peer
// address when it did not run.
func getRealIP(r *http.Request) string {
	if ip := contextx.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}
