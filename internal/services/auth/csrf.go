package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IssueCSRFToken signs a token bound to the session. It lives as long as a session.
func (s *Service) IssueCSRFToken(sessionID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.timeout)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign csrf token: %w", err)
	}
	return signed, nil
}

// VerifyCSRFToken checks that token was issued for sessionID and has not expired.
func (s *Service) VerifyCSRFToken(tokenString, sessionID string) error {
	if tokenString == "" || sessionID == "" {
		return ErrInvalidCSRF
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return ErrInvalidCSRF
	}
	if claims.Subject != sessionID {
		return ErrInvalidCSRF
	}
	return nil
}
