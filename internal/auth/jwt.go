// Package auth issues and validates the bearer tokens that identify storefront users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/safar/grocery-store/internal/config"
	"github.com/safar/grocery-store/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims holds the typed JWT payload. The subject is the user id.
type Claims struct {
	Email           string      `json:"email,omitempty"`
	FirstName       string      `json:"first_name,omitempty"`
	LastName        string      `json:"last_name,omitempty"`
	ProfileImageURL string      `json:"profile_image_url,omitempty"`
	Role            models.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// User converts the claims into the identity recorded by the user store.
func (c *Claims) User() models.User {
	role := c.Role
	if role == "" {
		role = models.RoleCustomer
	}
	return models.User{
		ID:              c.Subject,
		Email:           c.Email,
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		ProfileImageURL: c.ProfileImageURL,
		Role:            role,
	}
}

type Tokens struct {
	secret []byte
	issuer string
}

func NewTokens(cfg config.AuthConfig) *Tokens {
	return &Tokens{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// GenerateToken signs an HS256 token for u that expires after ttl.
func (t *Tokens) GenerateToken(u models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		ProfileImageURL: u.ProfileImageURL,
		Role:            u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) ValidateToken(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type ctxKey struct{}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the authenticated user stored by the API middleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*models.User)
	return u, ok && u != nil
}
