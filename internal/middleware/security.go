package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apierrors "mindwell/internal/errors"
)

// contentSecurityPolicy mirrors the policy helmet ships by default
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"base-uri 'self'",
	"font-src 'self' https: data:",
	"form-action 'self'",
	"frame-ancestors 'self'",
	"img-src 'self' data:",
	"object-src 'none'",
	"script-src 'self'",
	"script-src-attr 'none'",
	"style-src 'self' https: 'unsafe-inline'",
	"upgrade-insecure-requests",
}, ";")

// SecureHeaders holds the response headers set on every request
type SecureHeaders struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	ContentSecurityPolicy string
	XFrameOptions         string
	ReferrerPolicy        string
}

// DefaultSecureHeaders returns the stock header set
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: contentSecurityPolicy,
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "no-referrer",
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	hsts := fmt.Sprintf("max-age=%d", sh.HSTSMaxAge)
	if sh.HSTSIncludeSubdomains {
		hsts += "; includeSubDomains"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", sh.ContentSecurityPolicy)
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Origin-Agent-Cluster", "?1")
		h.Set("Referrer-Policy", sh.ReferrerPolicy)
		if sh.HSTSMaxAge > 0 {
			h.Set("Strict-Transport-Security", hsts)
		}
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Download-Options", "noopen")
		h.Set("X-Frame-Options", sh.XFrameOptions)
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("X-XSS-Protection", "0")
		h.Del("X-Powered-By")

		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders applies DefaultSecureHeaders
func SecurityHeaders(next http.Handler) http.Handler {
	return DefaultSecureHeaders().Handler(next)
}

// UserInfo represents the authenticated caller
type UserInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	SessionID string `json:"-"`
}

// AuthService validates bearer tokens
type AuthService interface {
	ValidateToken(ctx context.Context, token string) (*UserInfo, error)
}

type userContextKey struct{}

// WithUser stores the authenticated user in ctx
func WithUser(ctx context.Context, user *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the authenticated user, if any
func UserFromContext(ctx context.Context) (*UserInfo, bool) {
	user, ok := ctx.Value(userContextKey{}).(*UserInfo)
	return user, ok && user != nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the resolved user in the request context.
func AuthMiddleware(logger *slog.Logger, authService AuthService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := BearerToken(r)
			if !ok && isWebSocketUpgrade(r) {
				// Browsers cannot set headers on WebSocket handshakes
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				logger.WarnContext(ctx, "missing bearer token",
					"method", r.Method,
					"path", r.URL.Path,
				)
				apierrors.Report(w, r, apierrors.ErrMissingToken)
				return
			}

			user, err := authService.ValidateToken(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "authentication failed",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)
				apierrors.Report(w, r, apierrors.ErrInvalidToken.Wrap(err))
				return
			}

			logger.DebugContext(ctx, "authentication successful",
				"user_id", user.ID,
				"path", r.URL.Path,
			)
			next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
		})
	}
}
