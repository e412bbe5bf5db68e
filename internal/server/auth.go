package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"coachline/internal/ratelimit"
	"coachline/internal/repo"
)

type AuthConfig struct {
	JWTSecret   string
	AdminAPIKey string
	Logger      *log.Logger
}

type Principal struct {
	CoachID string
	Admin   bool
	Source  string
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func coachIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.CoachID != "" {
		return p.CoachID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// SignCoachToken issues an HS256 bearer token whose subject is the coach id.
func SignCoachToken(secret, coachID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if coachID == "" {
		return "", errors.New("coach id required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  coachID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{CoachID: claims.Subject, Source: "jwt"}, nil
}

func authenticateAdminKey(key, configured string) bool {
	if configured == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(configured)) == 1
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// route classes
const (
	routePublic = iota
	routeInvite
	routeAdmin
	routeCoach
)

func classifyRoute(basePath, p string) int {
	switch {
	case !strings.HasPrefix(p, basePath):
		return routePublic
	case p == path.Join(basePath, "health"), p == path.Join(basePath, "openapi.json"):
		return routePublic
	case strings.HasPrefix(p, path.Join(basePath, "invites")+"/"):
		return routeInvite
	case strings.HasPrefix(p, path.Join(basePath, "sop")+"/"):
		return routeAdmin
	default:
		return routeCoach
	}
}

// newAuthMiddleware enforces coach JWTs and the admin key. Invite routes carry their own
// token in the path and pass through.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch classifyRoute(basePath, req.URL.Path) {
			case routePublic, routeInvite:
				next.ServeHTTP(w, req)
				return
			case routeAdmin:
				if !authenticateAdminKey(strings.TrimSpace(req.Header.Get("X-Api-Key")), cfg.AdminAPIKey) {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "admin api key required", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), Principal{Admin: true, Source: "api_key"})))
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Printf("auth: rejected bearer token: %v", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

// RateLimiter is satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// newInviteRateLimitMiddleware limits invite routes per token hash and client address.
// Limiter failures are logged and the request proceeds.
func newInviteRateLimitMiddleware(basePath string, limiter RateLimiter, logger *log.Logger) func(http.Handler) http.Handler {
	prefix := path.Join(basePath, "invites") + "/"
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, prefix) {
				next.ServeHTTP(w, req)
				return
			}
			token, _, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, prefix), "/")
			key := repo.HashToken(token) + ":" + clientIP(req)
			d, err := limiter.Allow(req.Context(), key)
			if err != nil {
				logger.Printf("ratelimit: %v; allowing request", err)
				next.ServeHTTP(w, req)
				return
			}
			if !d.Allowed {
				secs := int(d.RetryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many requests", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
