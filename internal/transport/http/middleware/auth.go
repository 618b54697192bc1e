package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vedran77/vetchat/internal/domain"
)

type contextKey string

const SubjectKey contextKey = "subject"

// TokenVerifier turns an access token into the subject it names.
type TokenVerifier interface {
	Verify(token string) (domain.Subject, error)
}

func Auth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "Missing or invalid token")
				return
			}

			subject, err := tokens.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func WithSubject(ctx context.Context, subject domain.Subject) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// GetSubject extracts the authenticated subject from request context
func GetSubject(ctx context.Context) domain.Subject {
	subject, _ := ctx.Value(SubjectKey).(domain.Subject)
	return subject
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"` + message + `"}}`))
}
