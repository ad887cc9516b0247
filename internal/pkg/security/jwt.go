package security

import (
	"TelegramMini/internal/api/config"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("token 缺失")
	ErrTokenInvalid = errors.New("token 无效或已过期")
)

// Verifier 校验访问令牌并返回用户 ID，签发由外部认证服务负责
type Verifier interface {
	Verify(token string) (string, error)
}

// JWTVerifier 只接受 HMAC 签名
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(cfg config.JWTConfig) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
}

// Verify 验证 Token 字符串并解析出用户 ID
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return "", ErrTokenMissing
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名方法: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return "", ErrTokenInvalid
	}

	userID := claims.Identity()
	if userID == "" {
		return "", fmt.Errorf("%w: 缺少用户标识", ErrTokenInvalid)
	}
	return userID, nil
}
