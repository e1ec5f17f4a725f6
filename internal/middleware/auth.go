package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mtlprog/chorequorum/internal/domain"
)

type contextKey string

const (
	// ContextKeyParticipant is the key for storing the participant in request context.
	ContextKeyParticipant contextKey = "participant"
)

// Authenticator resolves a bearer token to an active participant.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Participant, error)
}

// AuthMiddleware handles Bearer token authentication.
type AuthMiddleware struct {
	auth Authenticator
}

// NewAuthMiddleware creates a new AuthMiddleware.
func NewAuthMiddleware(auth Authenticator) *AuthMiddleware {
	return &AuthMiddleware{
		auth: auth,
	}
}

// Authenticate validates Bearer token and adds the participant to request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		// Parse Bearer token
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		participant, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidToken):
				http.Error(w, "invalid token", http.StatusUnauthorized)
			case errors.Is(err, domain.ErrParticipantInactive):
				http.Error(w, "participant inactive", http.StatusUnauthorized)
			case errors.Is(err, domain.ErrStorageUnavailable):
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			default:
				slog.Error("authentication failed", "error", err)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyParticipant, participant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetParticipantFromContext retrieves the authenticated participant from request context.
func GetParticipantFromContext(ctx context.Context) (*domain.Participant, error) {
	participant, ok := ctx.Value(ContextKeyParticipant).(*domain.Participant)
	if !ok || participant == nil {
		return nil, domain.ErrInvalidToken
	}
	return participant, nil
}

// WithParticipant returns a copy of ctx carrying the participant.
func WithParticipant(ctx context.Context, p *domain.Participant) context.Context {
	return context.WithValue(ctx, ContextKeyParticipant, p)
}
