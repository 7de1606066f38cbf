package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
)

type UserStore interface {
	UpsertUser(ctx context.Context, u domain.User) error
}

// Resolver maps a bearer token to a user. Users named in valid tokens are
// upserted so rooms can show their names.
type Resolver struct {
	verifier *Verifier
	users    UserStore
}

func NewResolver(verifier *Verifier, users UserStore) *Resolver {
	return &Resolver{verifier: verifier, users: users}
}

func (r *Resolver) Resolve(ctx context.Context, token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, fmt.Errorf("missing token: %w", domain.ErrUnauthorized)
	}
	claims, err := r.verifier.Verify(token)
	if err != nil {
		return domain.User{}, fmt.Errorf("%v: %w", err, domain.ErrUnauthorized)
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_id claim: %w", domain.ErrUnauthorized)
	}

	user := domain.User{ID: id, Username: claims.Username}
	if user.Username != "" {
		if err := r.users.UpsertUser(ctx, user); err != nil {
			return domain.User{}, err
		}
	}
	return user, nil
}

// TokenFromRequest reads the bearer token from the Authorization header, or
// from the token query parameter that browsers must use for websockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
