/**
 * @description
 * Authentication and instrumentation middleware for the relayer service.
 */
package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/remitchain/relayer-service/internal/metrics"
)

// APIKeyHeader carries the shared secret for server-to-server calls.
const APIKeyHeader = "X-Relayer-Api-Key"

// AuthMiddleware guards the relayer routes. A request passes with the configured API key
// or with an HS256 bearer token signed by jwtSecret. With neither configured every request
// passes.
func AuthMiddleware(apiKey, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" && jwtSecret == "" {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey != "" {
				provided := r.Header.Get(APIKeyHeader)
				if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			if jwtSecret != "" {
				if err := validateBearer(r.Header.Get("Authorization"), jwtSecret); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}

			respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		})
	}
}

func validateBearer(authHeader, secret string) error {
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if authHeader == "" || tokenString == authHeader {
		return fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// MetricsMiddleware counts requests by route pattern, method and status.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTP(route, r.Method, status)
		})
	}
}
