package auth

import (
	"fmt"
	"time"
)

// Config holds authentication configuration for the single operator account
type Config struct {
	JWTSecret            string
	AccessTokenDuration  time.Duration
	OperatorUsername     string
	OperatorPasswordHash string
	MinPasswordLength    int
}

// Service authenticates the single operator account against a bcrypt hash
// configured at boot, and issues JWTs for the HTTP/WS control surface.
type Service struct {
	config          Config
	jwtManager      *JWTManager
	passwordManager *PasswordManager
}

// NewService creates a new auth service
func NewService(config Config) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("auth: JWT secret must be set")
	}
	if config.OperatorUsername == "" || config.OperatorPasswordHash == "" {
		return nil, fmt.Errorf("auth: operator username and password hash must be set")
	}
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}

	return &Service{
		config:          config,
		jwtManager:      NewJWTManager(config.JWTSecret, config.AccessTokenDuration),
		passwordManager: NewPasswordManager(DefaultBcryptCost, config.MinPasswordLength),
	}, nil
}

// Login validates operator credentials and returns a signed access token
func (s *Service) Login(username, password string) (*TokenResponse, error) {
	if username != s.config.OperatorUsername {
		return nil, ErrInvalidCredentials
	}
	if !s.passwordManager.VerifyPassword(password, s.config.OperatorPasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateAccessToken(OperatorClaims{Username: username})
	if err != nil {
		return nil, fmt.Errorf("auth: failed to issue token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		ExpiresIn:   s.jwtManager.GetAccessTokenDuration(),
		TokenType:   "Bearer",
	}, nil
}

// JWTManager exposes the underlying JWT manager for middleware wiring
func (s *Service) JWTManager() *JWTManager {
	return s.jwtManager
}
