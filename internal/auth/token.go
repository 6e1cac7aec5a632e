package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind distinguishes the two principal classes a token can assert.
type TokenKind string

const (
	// KindSession marks a player session token.
	KindSession TokenKind = "session"
	// KindService marks a trusted service token (game-server agent,
	// module-to-module calls).
	KindService TokenKind = "service"
)

// Typed verification failures. Each is non-fatal; the caller is simply
// denied.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenKind      = errors.New("token kind mismatch")
)

// Claims are the verified contents of a token.
type Claims struct {
	// Subject is the principal's stable identifier.
	Subject string
	// Name is the principal's display name.
	Name string
	// Kind is the token class.
	Kind TokenKind
	// ExpiresAt is the expiry instant.
	ExpiresAt time.Time
}

type tokenClaims struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies signed bearer tokens. Session and service
// tokens are signed with independent keys so a leaked session secret
// cannot mint service-privileged tokens.
type Service struct {
	sessionKey []byte
	serviceKey []byte
}

// NewService creates a token service from the two signing secrets.
//
// Precondition: sessionSecret and serviceSecret must be non-empty and
// must differ.
func NewService(sessionSecret, serviceSecret string) (*Service, error) {
	if sessionSecret == "" || serviceSecret == "" {
		return nil, errors.New("signing secrets must not be empty")
	}
	if sessionSecret == serviceSecret {
		return nil, errors.New("session and service secrets must differ")
	}
	return &Service{
		sessionKey: []byte(sessionSecret),
		serviceKey: []byte(serviceSecret),
	}, nil
}

// IssueToken returns a signed, self-contained token for the subject.
//
// Precondition: subject must be non-empty; ttl must be positive.
// Postcondition: Returns a compact JWS string signed with the key for kind.
func (s *Service) IssueToken(subject, name string, kind TokenKind, ttl time.Duration) (string, error) {
	key, err := s.keyFor(kind)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := &tokenClaims{
		Kind: string(kind),
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies a token of the expected kind and returns its claims.
//
// Postcondition: Returns Claims on success, or one of ErrTokenExpired,
// ErrTokenMalformed, ErrTokenSignature, ErrTokenKind.
func (s *Service) VerifyToken(token string, kind TokenKind) (Claims, error) {
	key, err := s.keyFor(kind)
	if err != nil {
		return Claims{}, err
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Claims{}, ErrTokenMalformed
		default:
			return Claims{}, ErrTokenSignature
		}
	}
	if !parsed.Valid {
		return Claims{}, ErrTokenSignature
	}
	if claims.Kind != string(kind) {
		return Claims{}, ErrTokenKind
	}

	out := Claims{
		Subject: claims.Subject,
		Name:    claims.Name,
		Kind:    TokenKind(claims.Kind),
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func (s *Service) keyFor(kind TokenKind) ([]byte, error) {
	switch kind {
	case KindSession:
		return s.sessionKey, nil
	case KindService:
		return s.serviceKey, nil
	}
	return nil, fmt.Errorf("unknown token kind %q", kind)
}
