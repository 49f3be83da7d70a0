package api

import (
	"pointshub/internal/model"

	"github.com/gin-gonic/gin"
)

// 响应视图按调用者角色裁剪字段：角色越高，可见字段越多。

func promotionBrief(p model.Promotion) gin.H {
	return gin.H{
		"id":          p.ID,
		"name":        p.Name,
		"minSpending": p.MinSpending,
		"rate":        p.Rate,
		"points":      p.Points,
	}
}

func promotionBriefs(ps []model.Promotion) []gin.H {
	out := make([]gin.H, 0, len(ps))
	for _, p := range ps {
		out = append(out, promotionBrief(p))
	}
	return out
}

// userView is the GET /users/:userId shape. Cashiers see the short form.
func userView(u *model.User, viewer model.Role) gin.H {
	h := gin.H{
		"id":         u.ID,
		"utorid":     u.Utorid,
		"name":       u.Name,
		"points":     u.Points,
		"verified":   u.Verified,
		"promotions": promotionBriefs(u.Promotions),
	}
	if viewer.AtLeast(model.RoleManager) {
		h["email"] = u.Email
		h["birthday"] = u.Birthday
		h["role"] = u.Role
		h["createdAt"] = u.CreatedAt
		h["lastLogin"] = u.LastLogin
		h["avatarUrl"] = u.AvatarURL
	}
	return h
}

// profileView is a user without secrets or internal flags.
func profileView(u *model.User) gin.H {
	return gin.H{
		"id":        u.ID,
		"utorid":    u.Utorid,
		"name":      u.Name,
		"email":     u.Email,
		"birthday":  u.Birthday,
		"role":      u.Role,
		"points":    u.Points,
		"createdAt": u.CreatedAt,
		"lastLogin": u.LastLogin,
		"verified":  u.Verified,
		"avatarUrl": u.AvatarURL,
	}
}

func meView(u *model.User) gin.H {
	h := profileView(u)
	h["promotions"] = promotionBriefs(u.Promotions)
	return h
}

func userRef(u *model.User) gin.H {
	return gin.H{"id": u.ID, "utorid": u.Utorid, "name": u.Name}
}

func userRefs(us []model.User) []gin.H {
	out := make([]gin.H, 0, len(us))
	for i := range us {
		out = append(out, userRef(&us[i]))
	}
	return out
}

// eventListItem 列表项不含描述；经理以上可见积分与发布状态。
func eventListItem(e *model.Event, viewer model.Role) gin.H {
	h := gin.H{
		"id":        e.ID,
		"name":      e.Name,
		"location":  e.Location,
		"startTime": e.StartTime,
		"endTime":   e.EndTime,
		"capacity":  e.Capacity,
		"numGuests": e.NumGuests,
	}
	if viewer.AtLeast(model.RoleManager) {
		h["pointsRemain"] = e.PointsRemain
		h["pointsAwarded"] = e.PointsAwarded
		h["published"] = e.Published
	}
	return h
}

// eventView is the single-event shape. full is for managers and the event's organizers.
func eventView(e *model.Event, full bool) gin.H {
	h := gin.H{
		"id":          e.ID,
		"name":        e.Name,
		"description": e.Description,
		"location":    e.Location,
		"startTime":   e.StartTime,
		"endTime":     e.EndTime,
		"capacity":    e.Capacity,
		"organizers":  userRefs(e.Organizers),
		"numGuests":   e.NumGuests,
	}
	if full {
		h["pointsRemain"] = e.PointsRemain
		h["pointsAwarded"] = e.PointsAwarded
		h["published"] = e.Published
		h["guests"] = userRefs(e.Guests)
	}
	return h
}

// promotionView hides startTime from regular users and cashiers.
func promotionView(p *model.Promotion, viewer model.Role) gin.H {
	h := gin.H{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"type":        p.Type,
		"endTime":     p.EndTime,
		"minSpending": p.MinSpending,
		"rate":        p.Rate,
		"points":      p.Points,
	}
	if viewer.AtLeast(model.RoleManager) {
		h["startTime"] = p.StartTime
	}
	return h
}

func transactionView(t *model.Transaction) gin.H {
	h := gin.H{
		"id":           t.ID,
		"utorid":       t.Utorid,
		"amount":       t.Amount,
		"type":         t.Type,
		"promotionIds": t.PromotionIDs(),
		"suspicious":   t.Suspicious,
		"remark":       t.Remark,
		"createdBy":    t.CreatedBy,
		"createdAt":    t.CreatedAt,
	}
	switch t.Type {
	case model.TransactionPurchase:
		h["spent"] = t.Spent
	case model.TransactionAdjustment:
		h["relatedId"] = t.RelatedID
	}
	return h
}
