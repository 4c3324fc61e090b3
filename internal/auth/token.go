package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = time.Hour

var (
	// ErrTokenMalformed covers unparseable tokens, bad signatures and bad claims.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is only returned for a correctly signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// TokenConfig holds the process-wide signing secret. Load it once at startup
// and share it by pointer; it must not be modified afterwards.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c *TokenConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// UserClaims represents JWT claims
type UserClaims struct {
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 identity tokens.
type TokenService struct {
	cfg *TokenConfig
}

// NewTokenService creates a token service backed by cfg.
func NewTokenService(cfg *TokenConfig) (*TokenService, error) {
	if cfg == nil || len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", cfg.TTL)
	}
	return &TokenService{cfg: cfg}, nil
}

// Issue generates a signed token for id.
func (s *TokenService) Issue(id Identity) (string, error) {
	if id == "" {
		return "", errors.New("cannot issue token for empty identity")
	}
	now := s.cfg.now()
	claims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.Secret)
}

// Verify checks the signature before trusting any claim, then expiry, and
// returns the subject.
func (s *TokenService) Verify(tokenString string) (Identity, error) {
	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.cfg.now),
	)
	if err != nil {
		// the parser validates claims only after the signature checks out,
		// so an expiry error implies a genuine token
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	return Identity(claims.Subject), nil
}
