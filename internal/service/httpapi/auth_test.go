package httpapi_test

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/foodoms/internal/service/httpapi"
)

func (s *APISuite) TestAuthentication() {
	s.requireError(s.do(http.MethodGet, "/api/cart", "", nil), http.StatusUnauthorized, "UNAUTHENTICATED")
	s.requireError(s.do(http.MethodGet, "/api/cart", "garbage", nil), http.StatusUnauthorized, "UNAUTHENTICATED")

	expired, err := httpapi.IssueToken(testSecret, "cust-1", httpapi.RoleCustomer, -time.Minute)
	s.Require().NoError(err)
	s.requireError(s.do(http.MethodGet, "/api/cart", expired, nil), http.StatusUnauthorized, "UNAUTHENTICATED")

	foreign, err := httpapi.IssueToken([]byte("other-secret"), "cust-1", httpapi.RoleCustomer, time.Hour)
	s.Require().NoError(err)
	s.requireError(s.do(http.MethodGet, "/api/cart", foreign, nil), http.StatusUnauthorized, "UNAUTHENTICATED")

	owner := s.token("owner-1", httpapi.RoleOwner)
	s.requireError(s.do(http.MethodGet, "/api/cart", owner, nil), http.StatusForbidden, "FORBIDDEN")

	customer := s.token("cust-1", httpapi.RoleCustomer)
	s.requireError(s.do(http.MethodGet, "/api/owner/orders?outlet_id=O1", customer, nil), http.StatusForbidden, "FORBIDDEN")
}

func (s *APISuite) TestParseToken() {
	raw := s.token("cust-1", httpapi.RoleCustomer)
	claims, err := httpapi.ParseToken(testSecret, raw)
	s.Require().NoError(err)
	s.Equal("cust-1", claims.Subject)
	s.Equal(httpapi.RoleCustomer, claims.Role)

	// Токен без subject не принимается.
	anonymous, err := httpapi.IssueToken(testSecret, "", httpapi.RoleCustomer, time.Hour)
	s.Require().NoError(err)
	_, err = httpapi.ParseToken(testSecret, anonymous)
	s.Error(err)

	// Чужой алгоритм отклоняется.
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, httpapi.Claims{
		Role:             httpapi.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "root", Issuer: "foodoms"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	s.Require().NoError(err)
	_, err = httpapi.ParseToken(testSecret, none)
	s.Error(err)
}
