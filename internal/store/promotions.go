package store

import (
	"context"
	"fmt"
	"time"

	"pointshub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PromotionFilter narrows ListPromotions.
//
// AvailableTo and ActiveAt restrict the list to what a regular user may
// redeem right now; Started and Ended are the manager-side filters.
type PromotionFilter struct {
	Name        string
	Type        model.PromotionType
	Started     *bool
	Ended       *bool
	AvailableTo uint
	ActiveAt    *time.Time
	Now         time.Time
	Page        int
	Limit       int
}

// CreatePromotion 创建促销并关联所有现有用户。
func (s *Store) CreatePromotion(ctx context.Context, p *model.Promotion) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(p).Error; err != nil {
			return translate(err)
		}
		if err := tx.Exec("INSERT INTO user_promotions (user_id, promotion_id) SELECT id, ? FROM users", p.ID).Error; err != nil {
			return fmt.Errorf("link users: %w", err)
		}
		return nil
	})
}

func (s *Store) GetPromotion(ctx context.Context, id uint) (*model.Promotion, error) {
	var p model.Promotion
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// PromotionsByID loads the promotions among ids that exist.
func (s *Store) PromotionsByID(ctx context.Context, ids []uint) ([]model.Promotion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []model.Promotion
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load promotions: %w", err)
	}
	return out, nil
}

// ActiveAutomaticPromotions returns automatic promotions running at now.
func (s *Store) ActiveAutomaticPromotions(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	var out []model.Promotion
	err := s.db.WithContext(ctx).
		Where("type = ? AND start_time <= ? AND end_time > ?", model.PromotionAutomatic, now, now).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load automatic promotions: %w", err)
	}
	return out, nil
}

func (s *Store) ListPromotions(ctx context.Context, f PromotionFilter) ([]model.Promotion, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Promotion{})
	if f.Name != "" {
		q = q.Where("name = ?", f.Name)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.AvailableTo != 0 {
		q = q.Where("id IN (?)", s.db.Table("user_promotions").Select("promotion_id").Where("user_id = ?", f.AvailableTo))
	}
	if f.ActiveAt != nil {
		q = q.Where("start_time <= ? AND end_time > ?", *f.ActiveAt, *f.ActiveAt)
	}
	if f.Started != nil {
		if *f.Started {
			q = q.Where("start_time <= ?", f.Now)
		} else {
			q = q.Where("start_time > ?", f.Now)
		}
	}
	if f.Ended != nil {
		if *f.Ended {
			q = q.Where("end_time <= ?", f.Now)
		} else {
			q = q.Where("end_time > ?", f.Now)
		}
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("count promotions: %w", err)
	}
	var out []model.Promotion
	if err := q.Scopes(paginate(f.Page, f.Limit)).Order("id").Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list promotions: %w", err)
	}
	return out, count, nil
}
