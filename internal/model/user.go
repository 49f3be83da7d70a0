package model

import (
	"strings"
	"time"
)

// Role is a caller's clearance level. Ranks are totally ordered.
type Role string

const (
	RoleRegular   Role = "regular"
	RoleCashier   Role = "cashier"
	RoleManager   Role = "manager"
	RoleSuperuser Role = "superuser"
)

var roleRanks = map[Role]int{
	RoleRegular:   1,
	RoleCashier:   2,
	RoleManager:   3,
	RoleSuperuser: 4,
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := roleRanks[r]
	return r, ok
}

// Rank returns 0 for unknown roles.
func (r Role) Rank() int {
	return roleRanks[r]
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() > 0 && r.Rank() >= min.Rank()
}

// User 表示一个积分账户持有者。
//
// utorid 是登录名；密码在账户激活（通过重置令牌设置）之前为空。
type User struct {
	ID         uint       `gorm:"primaryKey"`
	Utorid     string     `gorm:"type:varchar(8);uniqueIndex;not null"`
	Name       string     `gorm:"type:varchar(50);not null"`
	Email      string     `gorm:"type:varchar(191);uniqueIndex;not null"`
	Birthday   *string    `gorm:"type:varchar(10)"` // YYYY-MM-DD
	Role       Role       `gorm:"type:varchar(16);default:regular"`
	Points     int64      `gorm:"default:0"`
	Verified   bool       `gorm:"default:false"`
	Activated  bool       `gorm:"default:false"` // set on first authenticated request
	Suspicious bool       `gorm:"default:false"` // purchases by suspicious cashiers are not credited
	AvatarURL  *string    `gorm:"type:varchar(255)"`
	Password   string     `gorm:"type:varchar(72)"` // bcrypt hash
	ResetToken *string    `gorm:"type:varchar(36);index"`
	ExpiresAt  *time.Time // reset token expiry
	CreatedAt  time.Time
	LastLogin  *time.Time

	Promotions []Promotion `gorm:"many2many:user_promotions"` // promotions still available to this user
}
