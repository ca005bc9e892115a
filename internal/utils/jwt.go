package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingAuthHeader = errors.New("missing or malformed Authorization header")
	ErrInvalidToken      = errors.New("invalid token")
)

// DocumentTokenClaims grants the bearer access to the listed documents.
// A "*" entry grants access to every document.
type DocumentTokenClaims struct {
	UserId    string   `json:"userId,omitempty"`
	Documents []string `json:"docs"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims cover docID.
func (c *DocumentTokenClaims) Allows(docID string) bool {
	for _, d := range c.Documents {
		if d == "*" || d == docID {
			return true
		}
	}
	return false
}

// ValidateDocumentToken parses an HS256 token signed with secret.
func ValidateDocumentToken(tokenStr string, secret []byte) (*DocumentTokenClaims, error) {
	claims := &DocumentTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignDocumentToken issues an HS256 token for claims.
func SignDocumentToken(claims *DocumentTokenClaims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ExtractTokenFromHeader(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrMissingAuthHeader
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingAuthHeader
	}
	return token, nil
}

// TokenFromRequest reads the access token from the "token" query parameter,
// falling back to the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	token, err := ExtractTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		return ""
	}
	return token
}
