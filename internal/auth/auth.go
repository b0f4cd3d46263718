package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/xtrntr/stocksim/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the persistence the auth service needs
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, role string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Claims identifies the caller behind a bearer token
type Claims struct {
	UserID uuid.UUID
	Role   string
}

// IsService reports whether the token carries the privileged service role.
func (c Claims) IsService() bool {
	return c.Role == models.RoleService
}

// AuthService handles user authentication
type AuthService struct {
	DB     UserStore
	secret []byte
	ttl    time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(db UserStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{DB: db, secret: []byte(secret), ttl: ttl}
}

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	// Validate input
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.DB.CreateUser(ctx, username, string(hashedPassword), models.RoleEmployee)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.DB.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	return s.sign(user.ID.String(), user.Role, s.ttl)
}

// MintServiceToken signs a token carrying the service role, for the
// scheduler and other internal callers.
func (s *AuthService) MintServiceToken(ttl time.Duration) (string, error) {
	return s.sign("service", models.RoleService, ttl)
}

func (s *AuthService) sign(subject, role string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  time.Now().Unix(),
	}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken validates a JWT and returns who it was issued to
func (s *AuthService) ParseToken(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, err
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, errors.New("invalid token claims")
	}
	role, _ := mc["role"].(string)
	sub, _ := mc["sub"].(string)
	if role == models.RoleService {
		return Claims{Role: role}, nil
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, fmt.Errorf("invalid subject: %w", err)
	}
	return Claims{UserID: userID, Role: role}, nil
}
