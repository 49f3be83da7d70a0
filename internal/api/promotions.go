package api

import (
	"log/slog"
	"net/http"

	"pointshub/internal/api/middleware"
	"pointshub/internal/api/validate"
	"pointshub/internal/model"
	"pointshub/internal/store"

	"github.com/gin-gonic/gin"
)

func parsePromotionType(s string) (model.PromotionType, bool) {
	switch t := model.PromotionType(s); t {
	case model.PromotionAutomatic, model.PromotionOneTime:
		return t, true
	}
	return "", false
}

// handleCreatePromotion 创建促销并关联到所有现有用户。
func (s *Server) handleCreatePromotion(c *gin.Context) {
	p, ok := bindPayload(c)
	if !ok {
		return
	}
	name, ok := p.String("name")
	if !ok || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid name"})
		return
	}
	description, ok := p.String("description")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid description"})
		return
	}
	rawType, _ := p.String("type")
	typ, ok := parsePromotionType(rawType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be automatic or one-time"})
		return
	}
	rawStart, _ := p.String("startTime")
	start, ok := validate.ParseTime(rawStart)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startTime"})
		return
	}
	rawEnd, _ := p.String("endTime")
	end, ok := validate.ParseTime(rawEnd)
	if !ok || end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endTime"})
		return
	}

	promo := &model.Promotion{
		Name:        name,
		Description: description,
		Type:        typ,
		StartTime:   start,
		EndTime:     end,
	}
	if p.Has("minSpending") {
		v, ok := p.PositiveNumber("minSpending")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minSpending must be a positive number"})
			return
		}
		promo.MinSpending = &v
	}
	if p.Has("rate") {
		v, ok := p.PositiveNumber("rate")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate must be a positive number"})
			return
		}
		promo.Rate = &v
	}
	if p.Has("points") {
		v, ok := p.Int("points")
		if !ok || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "points must be a non-negative integer"})
			return
		}
		promo.Points = v
	}

	if err := s.store.CreatePromotion(c.Request.Context(), promo); err != nil {
		s.storeError(c, "create promotion", err)
		return
	}
	s.logger.Info("promotion created", slog.Uint64("promotion_id", uint64(promo.ID)), slog.String("type", string(typ)))
	c.JSON(http.StatusCreated, promotionView(promo, model.RoleManager))
}

// handleListPromotions 普通用户和收银员只能看到当前有效且仍可用的促销。
func (s *Server) handleListPromotions(c *gin.Context) {
	me := middleware.CurrentUser(c)
	now := s.now()
	f := store.PromotionFilter{Name: c.Query("name"), Now: now}
	if raw := c.Query("type"); raw != "" {
		typ, ok := parsePromotionType(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
			return
		}
		f.Type = typ
	}

	var ok bool
	if me.Role.AtLeast(model.RoleManager) {
		if f.Started, ok = queryBool(c, "started"); !ok {
			return
		}
		if f.Ended, ok = queryBool(c, "ended"); !ok {
			return
		}
		if f.Started != nil && f.Ended != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "started and ended cannot both be set"})
			return
		}
	} else {
		f.AvailableTo = me.ID
		f.ActiveAt = &now
	}
	if f.Page, f.Limit, ok = pagination(c); !ok {
		return
	}

	promos, count, err := s.store.ListPromotions(c.Request.Context(), f)
	if err != nil {
		s.storeError(c, "list promotions", err)
		return
	}
	results := make([]gin.H, 0, len(promos))
	for i := range promos {
		results = append(results, promotionView(&promos[i], me.Role))
	}
	c.JSON(http.StatusOK, listResponse(count, results))
}

func (s *Server) handleGetPromotion(c *gin.Context) {
	id, ok := pathID(c, "promotionId")
	if !ok {
		return
	}
	promo, err := s.store.GetPromotion(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get promotion", err)
		return
	}
	me := middleware.CurrentUser(c)
	if !me.Role.AtLeast(model.RoleManager) && !promo.IsActive(s.now()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, promotionView(promo, me.Role))
}
