package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"anpr-stream/internal/domain/anpr"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (User) TableName() string {
	return "users"
}

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"size:50;not null;uniqueIndex"`
	PasswordHash string    `gorm:"size:255;not null"`
	FullName     *string   `gorm:"size:100"`
	Role         string    `gorm:"size:20;not null"`
	IsActive     bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

func (u User) toDomain() *anpr.User {
	return &anpr.User{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		FullName:     u.FullName,
		Role:         u.Role,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
	}
}

// GetUserByUsername returns nil when the user does not exist.
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*anpr.User, error) {
	return r.first(ctx, "username = ?", username)
}

// GetUserByID returns nil when the user does not exist.
func (r *UserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*anpr.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *UserRepository) first(ctx context.Context, query string, arg interface{}) (*anpr.User, error) {
	var user User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user.toDomain(), nil
}

func (r *UserRepository) CreateUser(ctx context.Context, user *anpr.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	row := User{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		FullName:     user.FullName,
		Role:         user.Role,
		IsActive:     user.IsActive,
		CreatedAt:    user.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
