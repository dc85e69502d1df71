package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by the bearer token. The user id is the standard sub claim.
type Claims struct {
	RestaurantID string `json:"restaurant_id,omitempty"`
	Role         Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider derives the identity from an HS256 bearer token. SetToken is the
// sign-in/sign-out hook; listeners registered with OnChange run after every change.
type JWTProvider struct {
	secret []byte
	now    func() time.Time

	mu        sync.RWMutex
	token     string
	claims    *Claims
	listeners []func()
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), now: time.Now}
}

// SetToken validates and installs token. An empty token signs out.
func (p *JWTProvider) SetToken(token string) error {
	var claims *Claims
	if token != "" {
		c, err := p.Parse(token)
		if err != nil {
			return err
		}
		claims = c
	}

	p.mu.Lock()
	p.token, p.claims = token, claims
	listeners := append([]func(){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

func (p *JWTProvider) OnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *JWTProvider) Identity(context.Context) (Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.claims == nil || p.expired(p.claims) {
		return Identity{}, ErrNoIdentity
	}
	role := p.claims.Role
	if role == "" {
		role = RoleCustomer
	}
	return Identity{UserID: p.claims.Subject, RestaurantID: p.claims.RestaurantID, Role: role}, nil
}

func (p *JWTProvider) Token(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.claims == nil || p.expired(p.claims) {
		return "", ErrNoIdentity
	}
	return p.token, nil
}

func (p *JWTProvider) expired(c *Claims) bool {
	return c.ExpiresAt != nil && !p.now().Before(c.ExpiresAt.Time)
}

// Parse validates token and returns its claims.
func (p *JWTProvider) Parse(token string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	return claims, nil
}

// Issue signs a token for id with the provider's secret, e.g. for tests.
func (p *JWTProvider) Issue(id Identity, ttl time.Duration) (string, error) {
	now := p.now()
	claims := &Claims{
		RestaurantID: id.RestaurantID,
		Role:         id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "order-sync",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
