package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
)

// Claims identify the caller of a tenant scoped request
type Claims struct {
	UserID   string
	TenantID string
}

// ValidateToken parses an HS256 tenant token signed with secret
func ValidateToken(secret, token string) (*Claims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ierr.NewError("unexpected signing method").
				WithHint(fmt.Sprintf("unexpected signing method: %v", token.Header["alg"])).
				Mark(ierr.ErrPermissionDenied)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Token parse error").
			Mark(ierr.ErrPermissionDenied)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok || !parsedToken.Valid {
		return nil, ierr.NewError("invalid token claims").
			WithHint("Invalid token claims").
			Mark(ierr.ErrPermissionDenied)
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	tenantID, _ := claims["tenant_id"].(string)
	if userID == "" || tenantID == "" {
		return nil, ierr.NewError("token missing tenant or user").
			WithHint("Token must carry tenant_id and user_id").
			Mark(ierr.ErrPermissionDenied)
	}

	return &Claims{UserID: userID, TenantID: tenantID}, nil
}

// GenerateToken signs a tenant token valid for ttl
func GenerateToken(secret, userID, tenantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":   userID,
		"tenant_id": tenantID,
		"exp":       now.Add(ttl).Unix(),
		"iat":       now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
