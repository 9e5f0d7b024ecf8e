package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

// TestUserID is the identity every request gets when auth is disabled.
const TestUserID = "test-user-123"

type Config struct {
	// Secret is the HS256 shared secret tokens are signed with.
	Secret   []byte
	Issuer   string
	Audience string
	Disabled bool
}

type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Middleware authenticates bearer tokens and stores the subject as the
// request's user id. Requests without a usable token get a 401.
func Middleware(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Disabled {
			c.Set(userIDKey, TestUserID)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid Authorization header, use 'Bearer <token>'",
			})
			return
		}

		sub, err := ParseToken(cfg, strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userIDKey, sub)
		c.Next()
	}
}

// ParseToken verifies token and returns its subject.
func ParseToken(cfg Config, token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return "", errors.New("user id not found in token")
	}
	return claims.Subject, nil
}

// UserID returns the authenticated user of the request, or "" when the
// middleware did not run.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
