package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tablechat-io/tablechat/internal/models"
)

// Identity headers set by the fronting session layer. Session handling
// itself lives outside this service; by the time a request reaches us
// the user is already authenticated and these headers carry the result.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

type contextKey string

const userContextKey contextKey = "user"

// Identity resolves the calling user from the identity headers and
// stores it in the request context. Requests without a valid user id
// are rejected.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromRequest(r)
		if !ok {
			http.Error(w, `{"error":"missing or invalid user identity"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromRequest parses the identity headers without touching the
// context. The WebSocket handler uses this directly because the
// upgrade happens outside the API middleware chain.
func UserFromRequest(r *http.Request) (*models.User, bool) {
	id, err := uuid.Parse(r.Header.Get(HeaderUserID))
	if err != nil {
		return nil, false
	}

	role := models.Role(r.Header.Get(HeaderUserRole))
	if !role.Valid() {
		role = models.RoleCustomer
	}

	name := r.Header.Get(HeaderUserName)
	if name == "" {
		name = id.String()
	}

	return &models.User{ID: id, DisplayName: name, Role: role}, true
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}
