package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type JWTValidator struct {
	alg    string
	pubKey *rsa.PublicKey
	secret []byte
}

func NewJWTValidatorHS256(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("hs256 secret required")
	}
	return &JWTValidator{alg: jwt.SigningMethodHS256.Alg(), secret: []byte(secret)}, nil
}

func NewJWTValidatorRS256(pubKeyPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read pubkey: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse pubkey: %w", err)
	}
	return &JWTValidator{alg: jwt.SigningMethodRS256.Alg(), pubKey: key}, nil
}

// Validate returns subject (user id) on success
func (j *JWTValidator) Validate(token string) (string, error) {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if j.pubKey != nil {
			return j.pubKey, nil
		}
		return j.secret, nil
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{j.alg}), jwt.WithExpirationRequired())
	tok, err := parser.Parse(token, keyFunc)
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", errors.New("invalid token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("sub missing")
	}
	return sub, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(hdr string) (string, bool) {
	const pref = "Bearer "
	if len(hdr) <= len(pref) || !strings.EqualFold(hdr[:len(pref)], pref) {
		return "", false
	}
	return strings.TrimSpace(hdr[len(pref):]), true
}
