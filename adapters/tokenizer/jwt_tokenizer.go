package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keyward/keyward/core"
	"github.com/keyward/keyward/ports"
)

const AudienceSession = "keyward:session"

// DefaultSessionTTL is how long an issued bearer session stays valid.
const DefaultSessionTTL = 30 * 24 * time.Hour

// JWTTokenizer implements the SessionTokenizer interface using ES256-signed
// JWTs. Tokens are stateless; revocation before natural expiry is not
// supported.
type JWTTokenizer struct {
	signKey    *ecdsa.PrivateKey
	sessionTTL time.Duration
	now        func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer. A non-positive ttl selects
// the default session lifetime.
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, ttl time.Duration) *JWTTokenizer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &JWTTokenizer{
		signKey:    signKey,
		sessionTTL: ttl,
		now:        time.Now,
	}
}

var _ ports.SessionTokenizer = (*JWTTokenizer)(nil)

// IssueSession signs a bearer token for the account.
func (j *JWTTokenizer) IssueSession(accountID string) (core.Session, error) {
	now := j.now()
	expiresAt := now.Add(j.sessionTTL)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{AudienceSession},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(j.signKey)
	if err != nil {
		return core.Session{}, fmt.Errorf("sign session token: %w", err)
	}

	return core.Session{
		AccountID: accountID,
		Token:     signed,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateSession verifies signature, audience, and expiry of a bearer token.
func (j *JWTTokenizer) ValidateSession(tokenStr string) (core.Session, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceSession), jwt.WithTimeFunc(j.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return core.Session{}, core.ErrSessionExpired
		}
		return core.Session{}, core.ErrSessionInvalid
	}
	if !token.Valid {
		return core.Session{}, core.ErrSessionInvalid
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" {
		return core.Session{}, core.ErrSessionInvalid
	}

	return core.Session{
		AccountID: claims.Subject,
		Token:     tokenStr,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
