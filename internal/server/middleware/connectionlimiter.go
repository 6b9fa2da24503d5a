package middleware

import (
	"log/slog"
	"net/http"

	"github.com/RafliFerdian25/go-signaling/pkg/config"
)

type IPConnectionCounter func(ipAddr string) int
type IPConnectionCycler func(ipAddr string)

// NewConnectionLimiter caps concurrent connections per client IP. With no
// authentication layer, the remote address is the only stable key available.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter IPConnectionCounter,
	cycler IPConnectionCycler,
	config config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			count := counter(reqMeta.IP)
			if count < config.MaxPerIP {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("IP connection limit reached", slog.String("ip", reqMeta.IP), slog.Int("count", count))
			switch config.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			case "cycle":
				cycler(reqMeta.IP)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", config.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
		})
	}
}
