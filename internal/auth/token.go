package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for cookies that fail signature or expiry checks.
var ErrInvalidToken = errors.New("invalid session token")

const issuer = "budget-tracker"

// Signer binds session tokens to users in an HMAC-signed cookie value.
type Signer struct {
	secret []byte
}

// NewSigner returns a Signer keyed with secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign wraps a session token and user id into a signed string valid until expiresAt.
func (s *Signer) Sign(sessionToken string, userID int64, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sessionToken,
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies a signed value and returns the session token and user id it carries.
func (s *Signer) Parse(value string) (string, int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return "", 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.ID == "" {
		return "", 0, ErrInvalidToken
	}
	return claims.ID, userID, nil
}
