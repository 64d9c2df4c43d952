package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Роли вызывающей стороны.
const (
	RoleCustomer = "customer"
	RoleOwner    = "owner"
	RoleAdmin    = "admin"
)

const (
	ctxSubject = "auth.subject"
	ctxRole    = "auth.role"
	issuer     = "foodoms"
)

// Claims — содержимое токена доступа. Subject хранит идентификатор клиента.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken подписывает HS256-токен для subject с ролью role.
func IssueToken(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken проверяет подпись и срок действия токена.
func ParseToken(secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// authenticate требует Bearer-токен с одной из ролей.
func (a *API) authenticate(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "bearer token required")
			return
		}

		claims, err := ParseToken(a.secret, strings.TrimSpace(raw))
		if err != nil {
			a.logger.WithError(err).Debug("rejected access token")
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or expired token")
			return
		}
		if len(roles) > 0 && !hasRole(roles, claims.Role) {
			abort(c, http.StatusForbidden, "FORBIDDEN", claims.Role+" role is not allowed here")
			return
		}

		c.Set(ctxSubject, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

func hasRole(allowed []string, role string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func subject(c *gin.Context) string {
	return c.GetString(ctxSubject)
}
