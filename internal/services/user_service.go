package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/docflow/docflow/internal/config"
	"github.com/docflow/docflow/internal/db/models"
	"github.com/docflow/docflow/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Identity is what the rest of the system knows about an authenticated caller.
type Identity struct {
	UserID uint
	Active bool
}

type RegisterInput struct {
	Email    string
	FullName string
	Password string
}

type UserService struct {
	db                *gorm.DB
	logger            *zap.Logger
	passwordMinLength int
	passwordMaxLength int
}

func NewUserService(db *gorm.DB, logger *zap.Logger, cfg config.SecurityConfig) *UserService {
	return &UserService{
		db:                db,
		logger:            logger.With(zap.String("service", "user_service")),
		passwordMinLength: cfg.PasswordMinLength,
		passwordMaxLength: cfg.PasswordMaxLength,
	}
}

func (us *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, invalid("a valid email is required")
	}
	n := utf8.RuneCountInString(in.Password)
	if n < us.passwordMinLength {
		return nil, invalid("password is too short")
	}
	if us.passwordMaxLength > 0 && n > us.passwordMaxLength {
		return nil, invalid("password is too long")
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, invalid("password cannot be hashed")
	}

	user := &models.User{
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := us.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, storageErr("create user", err)
	}

	us.logger.Info("User registered", zap.Uint("user_id", user.ID))
	return user, nil
}

// Authenticate checks email and password. Every failure, including an unknown
// email, is reported as ErrUnauthorized. Inactive users authenticate but come
// back with Active false; callers decide what that means.
func (us *UserService) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	var user models.User
	err := us.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		us.logger.Warn("Login for unknown email")
		return Identity{}, ErrUnauthorized
	}
	if err != nil {
		return Identity{}, storageErr("load user", err)
	}

	ok, err := utils.VerifyPassword(user.PasswordHash, password)
	if err != nil || !ok {
		us.logger.Warn("Invalid password", zap.Uint("user_id", user.ID))
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: user.ID, Active: user.IsActive}, nil
}

func (us *UserService) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := us.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, classify("load user", notFound(err))
	}
	return &user, nil
}

// Identify resolves a user id taken from a token into an Identity.
func (us *UserService) Identify(ctx context.Context, userID uint) (Identity, error) {
	user, err := us.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrUnauthorized
	}
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: user.ID, Active: user.IsActive}, nil
}

func (us *UserService) SetActive(ctx context.Context, userID uint, active bool) error {
	res := us.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_active", active)
	if res.Error != nil {
		return storageErr("update user", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	us.logger.Info("User active flag changed", zap.Uint("user_id", userID), zap.Bool("active", active))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
