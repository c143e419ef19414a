package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleClient      Role = "client"
	RoleTransporter Role = "transporter"
	RoleAdmin       Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleTransporter || r == RoleAdmin
}

// ClientCapable reports whether the role may create and cancel shipments.
func (r Role) ClientCapable() bool {
	return r == RoleClient || r == RoleAdmin
}

var ErrInvalidToken = errors.New("invalid token")

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   Role
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 bearer tokens.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret, issuer string, ttl time.Duration) *Service {
	return &Service{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

func (s *Service) Issue(a Actor) (string, error) {
	if a.UserID == "" || !a.Role.Valid() {
		return "", fmt.Errorf("issue token: bad actor %q/%q", a.UserID, a.Role)
	}
	now := s.now()
	claims := &Claims{
		UserID: a.UserID,
		Role:   a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a token and returns the actor it names. Every failure wraps
// ErrInvalidToken.
func (s *Service) Verify(token string) (Actor, error) {
	if token == "" {
		return Actor{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Actor{}, ErrInvalidToken
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return Actor{}, fmt.Errorf("%w: missing user or role", ErrInvalidToken)
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}, nil
}
