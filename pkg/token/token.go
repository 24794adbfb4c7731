package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Generate creates a new JWT for a given anonymous user ID.
func Generate(userID, secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour * 24 * 30).Unix(), // Anonymous sessions live 30 days
		"iat": time.Now().Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return tok.SignedString([]byte(secret))
}

// Parse validates a token and returns the user ID it carries.
func Parse(tokenString, secret string) (string, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return "", fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", fmt.Errorf("invalid token")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}
