package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"eventhub-realtime/internal/domain"
)

// Claims mirrors the tokens issued by the CRUD layer's login endpoint.
type Claims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserLookup resolves a token subject to a user record.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Authenticator verifies bearer tokens and resolves their subject.
type Authenticator struct {
	secret []byte
	users  UserLookup
	now    func() time.Time
}

func NewAuthenticator(secret string, users UserLookup) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users, now: time.Now}
}

// Authenticate returns the user behind token. Every rejection wraps
// domain.ErrAuthentication; lookup failures are returned as they are.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := a.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetUser(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", claims.ID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrAuthentication)
	}
	return user, nil
}

// Verify checks signature and expiry without touching the user directory.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", domain.ErrAuthentication)
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, fmt.Errorf("%w: token expired", domain.ErrAuthentication)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrAuthentication)
	}
	return claims, nil
}

// Issue signs a token the same way the login endpoint does. Used by the
// token command and tests.
func (a *Authenticator) Issue(userID string, role domain.Role, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		ID:   userID,
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
