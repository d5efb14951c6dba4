package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Roles allowed to operate the dunning endpoints
const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenRevoked      = errors.New("token has been revoked")
	ErrBlocklistDegraded = errors.New("token blocklist unavailable")
)

// JWTClaims represents the JWT claims structure
type JWTClaims struct {
	Subject string `json:"sub"`
	JTI     string `json:"jti"` // JWT ID for revocation
	Role    string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IsOperator reports whether the claims grant access to dunning operations
func (c *JWTClaims) IsOperator() bool {
	return c.Role == RoleAdmin || c.Role == RoleService
}

// JWTVerifier validates HS256 tokens and checks the optional Redis blocklist
type JWTVerifier struct {
	secret          []byte
	issuer          string
	blocklist       *redis.Client
	blocklistPrefix string
	logger          *zap.Logger
}

// NewJWTVerifier creates a verifier. It returns nil when no secret is configured.
// redisClient may be nil, in which case revocation is not checked.
func NewJWTVerifier(secret, issuer string, redisClient *redis.Client, logger *zap.Logger) *JWTVerifier {
	if secret == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTVerifier{
		secret:          []byte(secret),
		issuer:          issuer,
		blocklist:       redisClient,
		blocklistPrefix: "jwt:blocked:",
		logger:          logger,
	}
}

// ParseToken validates the signature, expiry and issuer, then checks revocation
func (j *JWTVerifier) ParseToken(ctx context.Context, tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if j.blocklist == nil || claims.JTI == "" {
		return claims, nil
	}

	blocked, err := j.blocklist.Exists(ctx, j.blocklistPrefix+claims.JTI).Result()
	if err != nil {
		j.logger.Error("failed to check token blocklist", zap.Error(err))
		return nil, ErrBlocklistDegraded
	}
	if blocked > 0 {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// GenerateToken signs a token for the given subject and role
func (j *JWTVerifier) GenerateToken(subject, role string, ttl time.Duration) (string, string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := &JWTClaims{
		Subject: subject,
		JTI:     jti,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secret)
	if err != nil {
		return "", "", err
	}
	return tokenString, jti, nil
}

// RevokeToken adds a token to the blocklist
func (j *JWTVerifier) RevokeToken(ctx context.Context, jti string, remainingTTL time.Duration) error {
	if j.blocklist == nil {
		return errors.New("token blocklist is not configured")
	}
	return j.blocklist.Set(ctx, j.blocklistPrefix+jti, "1", remainingTTL).Err()
}
