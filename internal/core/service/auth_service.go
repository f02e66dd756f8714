package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/sweet-shop/internal/core/domain"
	"github.com/rl1809/sweet-shop/internal/port"
)

const (
	minUsernameLength = 3
	minPasswordLength = 6
	// bcrypt only hashes the first 72 bytes and rejects longer input.
	maxPasswordBytes = 72
	bcryptCost       = 10
)

var validate = validator.New()

type tokenClaims struct {
	UserID   int64       `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthService is the access gate: it registers and authenticates users and
// resolves bearer tokens into callers.
type AuthService struct {
	users    port.UserRepository
	secret   []byte
	tokenTTL time.Duration
	logger   *zap.Logger
}

func NewAuthService(users port.UserRepository, secret string, tokenTTL time.Duration, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:    users,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

func (s *AuthService) Register(ctx context.Context, username, email, password string) (string, *domain.User, error) {
	user, err := s.createUser(ctx, username, email, password, domain.RoleUser)
	if err != nil {
		return "", nil, err
	}

	token, err := s.issueToken(*user)
	if err != nil {
		return "", nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return token, user, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	if username == "" || password == "" {
		return "", nil, fmt.Errorf("%w: username and password are required", domain.ErrInvalidInput)
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	token, err := s.issueToken(*user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Resolve validates a bearer token and returns the caller it was issued to.
func (s *AuthService) Resolve(token string) (domain.Caller, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return domain.Caller{}, fmt.Errorf("%w: invalid or expired token", domain.ErrUnauthenticated)
	}

	return domain.Caller{
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

// EnsureAdmin creates the admin account unless an admin already exists. It
// reports whether an account was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	exists, err := s.users.HasAdmin(ctx)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	if exists {
		s.logger.Info("admin user already exists")
		return false, nil
	}

	user, err := s.createUser(ctx, username, email, password, domain.RoleAdmin)
	if err != nil {
		return false, err
	}

	s.logger.Info("admin user created", zap.String("username", user.Username))
	return true, nil
}

func (s *AuthService) createUser(ctx context.Context, username, email, password string, role domain.Role) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if len(username) < minUsernameLength {
		return nil, fmt.Errorf("%w: username must be at least %d characters", domain.ErrInvalidInput, minUsernameLength)
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: valid email required", domain.ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return nil, fmt.Errorf("%w: password must be at most %d bytes", domain.ErrInvalidInput, maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: password too long", domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *AuthService) issueToken(user domain.User) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
