package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-stream/internal/auth"
	"anpr-stream/internal/domain/anpr"
	"anpr-stream/internal/model"
)

const minPasswordLength = 6

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*anpr.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*anpr.User, error)
	CreateUser(ctx context.Context, user *anpr.User) error
}

type TokenIssuer interface {
	Issue(user anpr.User) (string, time.Time, error)
}

type RegisterInput struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	FullName *string `json:"full_name"`
	Role     string  `json:"role"`
}

type LoginResult struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        anpr.User `json:"user"`
}

type UserService struct {
	store  UserStore
	issuer TokenIssuer
	log    zerolog.Logger
}

func NewUserService(store UserStore, issuer TokenIssuer, log zerolog.Logger) *UserService {
	return &UserService{
		store:  store,
		issuer: issuer,
		log:    log.With().Str("component", "user_service").Logger(),
	}
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*anpr.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || len(username) > 50 {
		return nil, fmt.Errorf("%w: username must be 1-50 characters", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	role := model.UserRoleStaff
	switch model.UserRole(strings.ToLower(strings.TrimSpace(in.Role))) {
	case "", model.UserRoleStaff:
	case model.UserRoleAdmin:
		role = model.UserRoleAdmin
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: username %s", ErrConflict, username)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &anpr.User{
		Username:     username,
		PasswordHash: hash,
		FullName:     in.FullName,
		Role:         string(role),
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID.String()).Str("username", username).Str("role", user.Role).Msg("user registered")
	return user, nil
}

// Login checks the credentials and issues an access token. Unknown users,
// wrong passwords and inactive accounts all return ErrUnauthorized.
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user is inactive", ErrUnauthorized)
	}

	token, expires, err := s.issuer.Issue(*user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expires,
		User:        *user,
	}, nil
}

func (s *UserService) Me(ctx context.Context, id uuid.UUID) (*anpr.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("%w: user not found or inactive", ErrUnauthorized)
	}
	return user, nil
}
