package security

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserClaims Token 中携带的身份信息，user_id 缺省时取 sub
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Identity 解析出的用户 ID
func (c *UserClaims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}
