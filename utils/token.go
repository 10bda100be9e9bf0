package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// JwtCustomClaim carries the caller identity issued by the external auth service.
type JwtCustomClaim struct {
	ActorId string `json:"actor_id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	jwt.StandardClaims
}

func getJwtSecret() ([]byte, error) {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return nil, errors.New("API_SECRET is not set")
	}
	return []byte(secret), nil
}

func JwtGenerate(actorId string, name string, role string, lifespan time.Duration) (string, error) {
	secret, err := getJwtSecret()
	if err != nil {
		return "", err
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		ActorId: actorId,
		Name:    name,
		Role:    role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(lifespan).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})
	return t.SignedString(secret)
}

func JwtValidate(token string) (*JwtCustomClaim, error) {
	secret, err := getJwtSecret()
	if err != nil {
		return nil, err
	}
	parsed, err := jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid || claims.ActorId == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
