package store

import (
	"context"
	"fmt"
	"time"

	"pointshub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserFilter narrows ListUsers. Nil pointers are ignored.
type UserFilter struct {
	Name      string
	Role      model.Role
	Verified  *bool
	Activated *bool
	Page      int
	Limit     int
}

func (s *Store) GetUserByUtorid(ctx context.Context, utorid string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("utorid = ?", utorid).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetUserByID loads a user with the promotions still available to them.
func (s *Store) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Preload("Promotions").First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetUserWithPromotions is GetUserByID keyed by utorid.
func (s *Store) GetUserWithPromotions(ctx context.Context, utorid string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Preload("Promotions").Where("utorid = ?", utorid).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// CreateUser 创建用户并关联所有现有促销。
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(u).Error; err != nil {
			return translate(err)
		}
		if err := tx.Exec("INSERT INTO user_promotions (user_id, promotion_id) SELECT ?, id FROM promotions", u.ID).Error; err != nil {
			return fmt.Errorf("link promotions: %w", err)
		}
		return nil
	})
}

func (s *Store) ListUsers(ctx context.Context, f UserFilter) ([]model.User, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.User{})
	if f.Name != "" {
		q = q.Where("name = ?", f.Name)
	}
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.Verified != nil {
		q = q.Where("verified = ?", *f.Verified)
	}
	if f.Activated != nil {
		q = q.Where("activated = ?", *f.Activated)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	var users []model.User
	if err := q.Scopes(paginate(f.Page, f.Limit)).Order("id").Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, count, nil
}

// UpdateUser applies column updates and returns the reloaded user.
func (s *Store) UpdateUser(ctx context.Context, id uint, updates map[string]any) (*model.User, error) {
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, translate(err)
		}
	}
	return s.GetUserByID(ctx, id)
}

// TouchLogin 记录最近登录时间并标记账户已激活。
func (s *Store) TouchLogin(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Updates(map[string]any{"last_login": at, "activated": true}).Error
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

func (s *Store) SetResetToken(ctx context.Context, id uint, token string, expiresAt time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Updates(map[string]any{"reset_token": token, "expires_at": expiresAt}).Error
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// GetUserByResetToken finds the holder of a reset or activation token.
func (s *Store) GetUserByResetToken(ctx context.Context, token string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("reset_token = ?", token).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// CompleteReset 设置新密码哈希并清除重置令牌。
func (s *Store) CompleteReset(ctx context.Context, id uint, passwordHash string) error {
	err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Updates(map[string]any{"password": passwordHash, "reset_token": nil, "expires_at": nil}).Error
	if err != nil {
		return fmt.Errorf("complete reset: %w", err)
	}
	return nil
}

func (s *Store) SetPassword(ctx context.Context, id uint, passwordHash string) error {
	err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Update("password", passwordHash).Error
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// ClearExpiredResetTokens 清除在 before 之前过期的重置令牌，返回受影响行数。
func (s *Store) ClearExpiredResetTokens(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("reset_token IS NOT NULL AND expires_at < ?", before).
		Updates(map[string]any{"reset_token": nil, "expires_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("clear expired tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// EnsureSuperuser 确保给定 utorid 的超级用户存在，已存在时只提升角色。
func (s *Store) EnsureSuperuser(ctx context.Context, u *model.User) error {
	existing, err := s.GetUserByUtorid(ctx, u.Utorid)
	switch {
	case err == nil:
		return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", existing.ID).
			Updates(map[string]any{"role": model.RoleSuperuser, "verified": true}).Error
	case err == ErrNotFound:
		u.Role = model.RoleSuperuser
		u.Verified = true
		return s.CreateUser(ctx, u)
	default:
		return err
	}
}
