package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ksred/fhenergy-api/internal/types"
	"github.com/ksred/fhenergy-api/internal/wallet"
	"github.com/ksred/fhenergy-api/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid wallet signature")
	ErrStaleLogin         = errors.New("login timestamp outside the accepted window")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// LoginWindow bounds how far a login timestamp may drift from server time.
const LoginWindow = 5 * time.Minute

// Credentials is a signed login message
type Credentials struct {
	Address   string `json:"address" binding:"required"`
	Timestamp int64  `json:"timestamp" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	Permissions []string `json:"permissions"`
}

// Service issues API tokens to traders who prove control of a wallet
type Service struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewService creates a new authentication service with the given JWT secret
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
		now:       time.Now,
	}
}

// LoginMessage is the text a wallet signs to obtain a token.
func LoginMessage(address string, timestamp int64) string {
	return fmt.Sprintf("fhenergy login\naddress:%s\ntimestamp:%d", types.NormalizeIdentity(address), timestamp)
}

// GenerateToken generates a JWT token for a valid wallet login
// The token carries the wallet address as client ID with 24-hour expiration
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	now := s.now()
	issued := time.Unix(creds.Timestamp, 0)
	if issued.Before(now.Add(-LoginWindow)) || issued.After(now.Add(LoginWindow)) {
		return nil, ErrStaleLogin
	}

	if err := wallet.VerifySignature(creds.Address, LoginMessage(creds.Address, creds.Timestamp), creds.Signature); err != nil {
		return nil, ErrInvalidCredentials
	}

	expiration := now.Add(s.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		ClientID:    types.NormalizeIdentity(creds.Address),
		Permissions: []string{"trade"},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// IssueOperatorToken signs a token for internal endpoints with the internal
// secret. It is never reachable over HTTP; operators mint it from the CLI.
func IssueOperatorToken(internalSecret, operator string, ttl time.Duration) (*TokenResponse, error) {
	if internalSecret == "" || operator == "" {
		return nil, ErrTokenGeneration
	}
	now := time.Now()
	expiration := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ClientID:    operator,
		Permissions: []string{"internal"},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(internalSecret))
	if err != nil {
		return nil, ErrTokenGeneration
	}
	return &TokenResponse{Token: tokenString, Expiration: expiration}, nil
}

// ValidateToken validates a JWT token and returns the claims
// Verifies token signature and expiration
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
// Request body should contain the address, timestamp and signature of the login message
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrStaleLogin) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
