package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// StaffIDKey gin context 中当前工作人员 id 的键。
const StaffIDKey = "staff_id"

const staffIssuer = "abada-sales"

// StaffAuth 校验 Authorization: Bearer <jwt>（HS256），subject 即工作人员 id，用作核销/发放的审计字段。
func StaffAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code": http.StatusServiceUnavailable,
				"msg":  "staff authentication is not configured",
			})
			return
		}
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			unauthorized(c, "missing bearer token")
			return
		}
		staffID, err := ParseStaffToken(secret, strings.TrimSpace(raw))
		if err != nil {
			unauthorized(c, "invalid staff token")
			return
		}
		c.Set(StaffIDKey, staffID)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": http.StatusUnauthorized,
		"msg":  msg,
	})
}

// ParseStaffToken 返回 token 的 subject。
func ParseStaffToken(secret, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(staffIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// IssueStaffToken 签发工作人员 token，abadactl 与测试使用。
func IssueStaffToken(secret, staffID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    staffIssuer,
		Subject:   staffID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// StaffID 取当前请求的工作人员 id。
func StaffID(c *gin.Context) string {
	return c.GetString(StaffIDKey)
}
