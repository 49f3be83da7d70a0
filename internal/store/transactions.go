package store

import (
	"context"
	"fmt"

	"pointshub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Utorid     string
	Type       model.TransactionType
	CreatedBy  string
	Suspicious *bool
	Page       int
	Limit      int
}

// Record describes one balance change to persist atomically.
type Record struct {
	Transaction *model.Transaction
	// PromotionIDs are linked to the transaction as applied.
	PromotionIDs []uint
	// Detach are removed from the user's available promotions.
	Detach []uint
	// Credit is added to the user's balance; zero leaves it untouched.
	Credit int64
}

// RecordTransaction 在同一事务中写入交易、关联促销、移除已兑换的一次性促销并更新余额。
func (s *Store) RecordTransaction(ctx context.Context, r Record) error {
	t := r.Transaction
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(t).Error; err != nil {
			return fmt.Errorf("insert transaction: %w", translate(err))
		}
		for _, pid := range r.PromotionIDs {
			if err := tx.Exec("INSERT INTO transaction_promotions (transaction_id, promotion_id) VALUES (?, ?)", t.ID, pid).Error; err != nil {
				return fmt.Errorf("link promotion %d: %w", pid, err)
			}
		}
		if detach := uniqueIDs(r.Detach); len(detach) > 0 {
			res := tx.Exec("DELETE FROM user_promotions WHERE user_id = ? AND promotion_id IN ?", t.UserID, detach)
			if res.Error != nil {
				return fmt.Errorf("detach promotions: %w", res.Error)
			}
			// 少删一行说明另一笔交易已经核销了该促销，整笔回滚
			if res.RowsAffected != int64(len(detach)) {
				return ErrPromotionUsed
			}
		}
		if r.Credit != 0 {
			res := tx.Model(&model.User{}).Where("id = ?", t.UserID).
				Update("points", gorm.Expr("points + ?", r.Credit))
			if res.Error != nil {
				return fmt.Errorf("credit balance: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		t.Promotions = make([]model.Promotion, 0, len(r.PromotionIDs))
		for _, pid := range r.PromotionIDs {
			t.Promotions = append(t.Promotions, model.Promotion{ID: pid})
		}
		return nil
	})
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Store) GetTransaction(ctx context.Context, id uint) (*model.Transaction, error) {
	var t model.Transaction
	if err := s.db.WithContext(ctx).Preload("Promotions").First(&t, id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *Store) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Transaction{})
	if f.Utorid != "" {
		q = q.Where("utorid = ?", f.Utorid)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if f.Suspicious != nil {
		q = q.Where("suspicious = ?", *f.Suspicious)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	var out []model.Transaction
	if err := q.Scopes(paginate(f.Page, f.Limit)).Preload("Promotions").Order("id DESC").Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return out, count, nil
}
