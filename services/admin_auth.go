package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const adminRole = "admin"

var ErrUnauthorized = errors.New("unauthorized")

// AdminClaims is the JWT payload accepted on catalog administration endpoints.
type AdminClaims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AdminAuthService authenticates callers of the administrative endpoints,
// either by an HS256 bearer token carrying role=admin or by a static API key.
type AdminAuthService struct {
	JWTSecret       string
	AdminAPIKeyHash string // bcrypt hash
}

func NewAdminAuthService(jwtSecret, apiKeyHash string) *AdminAuthService {
	return &AdminAuthService{JWTSecret: jwtSecret, AdminAPIKeyHash: apiKeyHash}
}

// Enabled reports whether any credential source is configured.
func (s *AdminAuthService) Enabled() bool {
	return s.JWTSecret != "" || s.AdminAPIKeyHash != ""
}

// ExtractTokenFromHeader strips the Bearer prefix.
func (s *AdminAuthService) ExtractTokenFromHeader(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("%w: invalid authorization header format", ErrUnauthorized)
	}
	return parts[1], nil
}

// ValidateToken checks signature, expiry and the admin role.
func (s *AdminAuthService) ValidateToken(tokenString string) (*AdminClaims, error) {
	if s.JWTSecret == "" {
		return nil, fmt.Errorf("%w: token authentication is not configured", ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.Role != adminRole {
		return nil, fmt.Errorf("%w: role %q may not administer the catalog", ErrUnauthorized, claims.Role)
	}
	return claims, nil
}

// ValidateAPIKey compares key against the configured bcrypt hash.
func (s *AdminAuthService) ValidateAPIKey(key string) error {
	if s.AdminAPIKeyHash == "" || key == "" {
		return fmt.Errorf("%w: api key authentication is not configured", ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.AdminAPIKeyHash), []byte(key)); err != nil {
		return fmt.Errorf("%w: invalid api key", ErrUnauthorized)
	}
	return nil
}

// HashAPIKey produces the value to configure as ADMIN_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hashed), nil
}
