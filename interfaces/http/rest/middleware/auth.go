package middleware

import (
	stderrors "errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"brain2-connections/pkg/auth"
	"brain2-connections/pkg/errors"
)

// Trusted identity headers set by API Gateway authorizers
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRoles = "X-User-Roles"
)

// Authenticate resolves the caller and stores it in the request context.
// With a validator, a bearer JWT is required. Without one the identity
// headers are trusted, which is only safe behind an authorizer or locally.
func Authenticate(validator *auth.JWTValidator, errs *errors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				user *auth.UserContext
				err  error
			)
			if validator != nil {
				user, err = fromToken(validator, r)
			} else {
				user, err = fromHeaders(r)
			}
			if err != nil {
				logger.Warn("Authentication failed",
					zap.Error(err),
					zap.String("path", r.URL.Path),
					zap.String("ip", getClientIP(r)),
				)
				errs.Handle(w, r, err)
				return
			}

			logger.Debug("Request authenticated",
				zap.String("user_id", user.UserID),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
			)
			next.ServeHTTP(w, r.WithContext(auth.SetUserInContext(r.Context(), user)))
		})
	}
}

func fromToken(validator *auth.JWTValidator, r *http.Request) (*auth.UserContext, error) {
	token := extractToken(r)
	if token == "" {
		return nil, errors.NewUnauthorizedError("Missing authentication token")
	}

	claims, err := validator.ValidateToken(token)
	if err != nil {
		switch {
		case stderrors.Is(err, auth.ErrExpiredToken):
			return nil, errors.NewUnauthorizedError("Token has expired").WithCause(err)
		case stderrors.Is(err, auth.ErrInvalidSignature):
			return nil, errors.NewUnauthorizedError("Invalid token signature").WithCause(err)
		default:
			return nil, errors.NewUnauthorizedError("Invalid token").WithCause(err)
		}
	}
	return auth.UserFromClaims(claims), nil
}

func fromHeaders(r *http.Request) (*auth.UserContext, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return nil, errors.NewUnauthorizedError("Missing user context")
	}

	var roles []string
	for _, role := range strings.Split(r.Header.Get(HeaderUserRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return &auth.UserContext{
		UserID:      userID,
		DisplayName: r.Header.Get(HeaderUserName),
		Email:       r.Header.Get(HeaderUserEmail),
		Roles:       roles,
	}, nil
}

// extractToken reads a bearer token from the Authorization header
func extractToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// getClientIP extracts the client IP address
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// RequireRole creates middleware that requires one of roles
func RequireRole(errs *errors.ErrorHandler, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.GetUserFromContext(r.Context())
			if err != nil {
				errs.Handle(w, r, errors.NewUnauthorizedError(""))
				return
			}

			for _, role := range roles {
				if user.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			errs.Handle(w, r, errors.NewForbiddenError("Insufficient permissions"))
		})
	}
}

// RateLimit throttles each authenticated caller, falling back to the client
// IP. A nil limiter disables it.
func RateLimit(limiter auth.RateLimiter, errs *errors.ErrorHandler, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + getClientIP(r)
			if user, err := auth.GetUserFromContext(r.Context()); err == nil {
				key = "user:" + user.UserID
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("Rate limiter error", zap.Error(err))
				errs.Handle(w, r, errors.NewInternalError("rate limiter failed").WithCause(err))
				return
			}
			if !allowed {
				errs.Handle(w, r, errors.NewRateLimitError("Rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
