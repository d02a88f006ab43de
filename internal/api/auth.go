package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-convo/internal/chat"
)

const (
	tokenCookieKey = "token"

	subjectClaim = "sub"
	emailClaim   = "email"
	nameClaim    = "name"
	pictureClaim = "picture"
	expClaim     = "exp"
)

var errNoToken = errors.New("no identity token")

// tokenFromRequest reads the identity token from the Authorization header,
// falling back to the token cookie.
func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || token == "" {
			return "", fmt.Errorf("malformed authorization header")
		}
		return token, nil
	}

	c, err := r.Cookie(tokenCookieKey)
	if err != nil || c.Value == "" {
		return "", errNoToken
	}
	return c.Value, nil
}

func (s *GoConvoApp) verifyToken(tokenString string) (chat.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return chat.Identity{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return chat.Identity{}, fmt.Errorf("invalid token")
	}

	sub, _ := claims[subjectClaim].(string)
	if sub == "" {
		return chat.Identity{}, fmt.Errorf("missing subject claim")
	}

	email, _ := claims[emailClaim].(string)
	name, _ := claims[nameClaim].(string)
	picture, _ := claims[pictureClaim].(string)

	return chat.Identity{
		Subject: sub,
		Email:   email,
		Name:    name,
		Avatar:  picture,
	}, nil
}

// identityFromRequest verifies the request's identity token.
func (s *GoConvoApp) identityFromRequest(r *http.Request) (chat.Identity, error) {
	tokenString, err := tokenFromRequest(r)
	if err != nil {
		return chat.Identity{}, err
	}
	return s.verifyToken(tokenString)
}

// CreateIdentityToken signs an HS256 identity token for ident, for local
// development without an identity provider.
func CreateIdentityToken(key []byte, ident chat.Identity, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: ident.Subject,
		emailClaim:   ident.Email,
		nameClaim:    ident.Name,
		pictureClaim: ident.Avatar,
		expClaim:     time.Now().Add(exp).Unix(),
	})

	return token.SignedString(key)
}
