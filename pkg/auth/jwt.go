package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "go-whatsapp-echo-bot"
	ScopeOperator = "operator"
)

var ErrJWTNotConfigured = errors.New("JWT_SECRET_KEY not configured")

// OperatorTokenClaims represents the claims in an operator JWT
type OperatorTokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// GenerateOperatorToken creates a short-lived HS256 token for subject
func GenerateOperatorToken(subject string) (string, time.Time, error) {
	_, signingKey, ttl := secrets()
	if signingKey == "" {
		return "", time.Time{}, ErrJWTNotConfigured
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := OperatorTokenClaims{
		Scope: ScopeOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateOperatorToken validates an operator JWT and returns the claims
func ValidateOperatorToken(tokenString string) (*OperatorTokenClaims, error) {
	_, signingKey, _ := secrets()
	if signingKey == "" {
		return nil, ErrJWTNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &OperatorTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(signingKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*OperatorTokenClaims)
	if !ok || !token.Valid || claims.Scope != ScopeOperator {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
