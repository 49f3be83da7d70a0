package model

import (
	"time"
)

// PromotionType 区分自动促销与一次性促销。
type PromotionType string

const (
	PromotionAutomatic PromotionType = "automatic"
	PromotionOneTime   PromotionType = "one-time"
)

// TransactionType 交易类型。
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionAdjustment TransactionType = "adjustment"
)

// Event 表示一个可以发放积分的活动。
//
// 组织者与来宾都是与 User 的多对多关系；同一用户不能同时属于两者。
type Event struct {
	ID          uint      `gorm:"primaryKey"`
	CreatedAt   time.Time // 创建时间
	UpdatedAt   time.Time // 更新时间
	Name        string    `gorm:"not null"`
	Description string    `gorm:"type:text"`
	Location    string    `gorm:"not null"`
	StartTime   time.Time `gorm:"not null;index"`
	EndTime     time.Time `gorm:"not null;index"`
	Capacity    *int      // nil 表示不限人数

	PointsRemain  int64 `gorm:"default:0"` // 尚未发放的积分池
	PointsAwarded int64 `gorm:"default:0"` // 已发放积分
	Published     bool  `gorm:"default:false;index"`
	NumGuests     int   `gorm:"default:0"`

	Organizers []User `gorm:"many2many:event_organizers"`
	Guests     []User `gorm:"many2many:event_guests"`
}

// HasStarted reports whether now is past the start time.
func (e *Event) HasStarted(now time.Time) bool {
	return now.After(e.StartTime)
}

// HasEnded reports whether now is past the end time.
func (e *Event) HasEnded(now time.Time) bool {
	return now.After(e.EndTime)
}

// IsFull reports whether a capacity is set and reached.
func (e *Event) IsFull() bool {
	return e.Capacity != nil && e.NumGuests >= *e.Capacity
}

// IsOrganizer reports whether userID organizes e. Organizers must be loaded.
func (e *Event) IsOrganizer(userID uint) bool {
	for _, u := range e.Organizers {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// IsGuest reports whether userID is a guest of e. Guests must be loaded.
func (e *Event) IsGuest(userID uint) bool {
	for _, u := range e.Guests {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// Promotion 表示一次积分促销活动。
type Promotion struct {
	ID          uint          `gorm:"primaryKey"`
	CreatedAt   time.Time     // 创建时间
	Name        string        `gorm:"not null"`
	Description string        `gorm:"type:text"`
	Type        PromotionType `gorm:"type:varchar(16);not null"`
	StartTime   time.Time     `gorm:"not null"`
	EndTime     time.Time     `gorm:"not null"`
	MinSpending *float64      // 最低消费门槛
	Rate        *float64      // 每消费 1 单位额外积分比例（×100）
	Points      int64         `gorm:"default:0"` // 固定奖励积分

	Users        []User        `gorm:"many2many:user_promotions"`
	Transactions []Transaction `gorm:"many2many:transaction_promotions"`
}

// IsActive reports whether now falls in [StartTime, EndTime).
func (p *Promotion) IsActive(now time.Time) bool {
	return !now.Before(p.StartTime) && now.Before(p.EndTime)
}

// Transaction 记录一次积分变动，创建后不可修改。
type Transaction struct {
	ID         uint            `gorm:"primaryKey"`
	CreatedAt  time.Time       // 创建时间
	UserID     uint            `gorm:"not null;index"`
	Utorid     string          `gorm:"type:varchar(8);not null;index"`
	Type       TransactionType `gorm:"type:varchar(16);not null"`
	Spent      *float64        // 仅 purchase
	Amount     int64           // 积分数（adjustment 可为负）
	Remark     string
	CreatedBy  string `gorm:"type:varchar(8);not null"`
	RelatedID  *uint  // 仅 adjustment
	Suspicious bool   `gorm:"default:false"`

	Promotions []Promotion `gorm:"many2many:transaction_promotions"`
}

// PromotionIDs returns the ids of the applied promotions.
func (t *Transaction) PromotionIDs() []uint {
	ids := make([]uint, 0, len(t.Promotions))
	for _, p := range t.Promotions {
		ids = append(ids, p.ID)
	}
	return ids
}
