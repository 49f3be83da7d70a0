// Package points computes purchase awards.
//
// Spend amounts arrive as JSON numbers; arithmetic goes through decimal so
// that amounts like 0.1 + 0.2 round the same way every time.
package points

import (
	"time"

	"pointshub/internal/model"

	"github.com/shopspring/decimal"
)

// RatePerUnit is the spend that earns one base point.
var RatePerUnit = decimal.RequireFromString("0.25")

var hundred = decimal.NewFromInt(100)

// Base returns round(spent / 0.25). Halves round away from zero.
func Base(spent float64) int64 {
	return decimal.NewFromFloat(spent).Div(RatePerUnit).Round(0).IntPart()
}

// Bonus returns a promotion's award for spent: points + round(rate*100*spent).
func Bonus(p *model.Promotion, spent float64) int64 {
	bonus := p.Points
	if p.Rate != nil && *p.Rate > 0 {
		bonus += decimal.NewFromFloat(*p.Rate).
			Mul(hundred).
			Mul(decimal.NewFromFloat(spent)).
			Round(0).
			IntPart()
	}
	return bonus
}

// Qualifies reports whether p is active at now and spent meets its minimum.
func Qualifies(p *model.Promotion, spent float64, now time.Time) bool {
	if !p.IsActive(now) {
		return false
	}
	if p.MinSpending != nil && decimal.NewFromFloat(*p.MinSpending).GreaterThan(decimal.NewFromFloat(spent)) {
		return false
	}
	return true
}

// Breakdown is the result of pricing one purchase.
type Breakdown struct {
	Base      int64
	Bonus     int64
	Applied   []uint // every promotion that contributed
	Redeemed  []uint // one-time promotions to detach from the user
	Automatic []uint
}

// Total is the full award.
func (b Breakdown) Total() int64 {
	return b.Base + b.Bonus
}

// Purchase prices a purchase. redeemed are the one-time promotions the
// caller already validated; automatic are candidates that apply whenever
// they qualify.
func Purchase(spent float64, redeemed []model.Promotion, automatic []model.Promotion, now time.Time) Breakdown {
	b := Breakdown{Base: Base(spent)}
	seen := make(map[uint]bool, len(redeemed)+len(automatic))

	for i := range redeemed {
		p := &redeemed[i]
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		b.Bonus += Bonus(p, spent)
		b.Applied = append(b.Applied, p.ID)
		if p.Type == model.PromotionOneTime {
			b.Redeemed = append(b.Redeemed, p.ID)
		}
	}
	for i := range automatic {
		p := &automatic[i]
		if seen[p.ID] || p.Type != model.PromotionAutomatic || !Qualifies(p, spent, now) {
			continue
		}
		seen[p.ID] = true
		b.Bonus += Bonus(p, spent)
		b.Applied = append(b.Applied, p.ID)
		b.Automatic = append(b.Automatic, p.ID)
	}
	return b
}
