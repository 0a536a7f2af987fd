package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lessonlift/models"
)

var ErrEmailTaken = errors.New("email already registered")

// UserStore 教师账号管理
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Create 创建账号并生成访问令牌，plan 为空时默认试用
func (s *UserStore) Create(email string, plan models.Plan) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}
	if plan == "" {
		plan = models.PlanTrial
	}
	if !plan.Valid() {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrInvalidRequest, plan)
	}

	var count int64
	s.db.Model(&models.User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		return nil, ErrEmailTaken
	}

	user := &models.User{
		PublicID: uuid.NewString(),
		Email:    email,
		Token:    models.GenerateUserToken(),
		Plan:     plan,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *UserStore) List() ([]models.User, error) {
	var users []models.User
	err := s.db.Order("id asc").Find(&users).Error
	return users, err
}

// ByToken 通过 Bearer Token 查找用户
func (s *UserStore) ByToken(token string) (*models.User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	var user models.User
	if err := s.db.Where("token = ?", token).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdatePlan 修改计划；publicID 为创建时返回的 public_id
func (s *UserStore) UpdatePlan(publicID string, plan models.Plan) (*models.User, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrInvalidRequest, plan)
	}
	var user models.User
	if err := s.db.Where("public_id = ?", publicID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := s.db.Model(&user).Update("plan", plan).Error; err != nil {
		return nil, err
	}
	user.Plan = plan
	return &user, nil
}

// IsAdminToken 检查管理员密钥
func IsAdminToken(db *gorm.DB, token string) bool {
	if token == "" {
		return false
	}
	var count int64
	db.Model(&models.AdminKey{}).Where(&models.AdminKey{Key: token}).Count(&count)
	return count > 0
}
