package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"pointshub/internal/api/middleware"
	"pointshub/internal/api/validate"
	"pointshub/internal/model"
	"pointshub/internal/pkg/metrics"
	"pointshub/internal/points"
	"pointshub/internal/store"

	"github.com/gin-gonic/gin"
)

func parseTransactionType(s string) (model.TransactionType, bool) {
	switch t := model.TransactionType(s); t {
	case model.TransactionPurchase, model.TransactionAdjustment:
		return t, true
	}
	return "", false
}

// requestedPromotions 校验 promotionIds：每个都必须存在且仍对该用户可用。
// 返回按请求顺序排列的促销。
func (s *Server) requestedPromotions(c *gin.Context, p validate.Payload, user *model.User) ([]model.Promotion, bool) {
	if !p.Has("promotionIds") {
		return nil, true
	}
	ids, ok := p.IDs("promotionIds")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "promotionIds must be an array of ids"})
		return nil, false
	}
	found, err := s.store.PromotionsByID(c.Request.Context(), ids)
	if err != nil {
		s.storeError(c, "load promotions", err)
		return nil, false
	}
	byID := make(map[uint]model.Promotion, len(found))
	for _, promo := range found {
		byID[promo.ID] = promo
	}
	available := make(map[uint]bool, len(user.Promotions))
	for _, promo := range user.Promotions {
		available[promo.ID] = true
	}

	out := make([]model.Promotion, 0, len(ids))
	for _, id := range ids {
		promo, ok := byID[id]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("promotion %d does not exist", id)})
			return nil, false
		}
		if !available[id] {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("promotion %d is not available to this user", id)})
			return nil, false
		}
		out = append(out, promo)
	}
	return out, true
}

func optionalRemark(c *gin.Context, p validate.Payload) (string, bool) {
	if !p.Has("remark") {
		return "", true
	}
	remark, ok := p.String("remark")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remark must be a string"})
		return "", false
	}
	return remark, true
}

// handleCreateTransaction 记录消费或调整交易。
func (s *Server) handleCreateTransaction(c *gin.Context) {
	p, ok := bindPayload(c)
	if !ok {
		return
	}
	utorid, ok := p.String("utorid")
	if !ok || utorid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid is required"})
		return
	}
	user, err := s.store.GetUserWithPromotions(c.Request.Context(), utorid)
	if err != nil {
		s.storeError(c, "get user", err)
		return
	}
	rawType, _ := p.String("type")
	typ, ok := parseTransactionType(rawType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be purchase or adjustment"})
		return
	}

	switch typ {
	case model.TransactionPurchase:
		s.createPurchase(c, p, user)
	case model.TransactionAdjustment:
		if !middleware.CurrentUser(c).Role.AtLeast(model.RoleManager) {
			c.JSON(http.StatusForbidden, gin.H{"error": "only managers can create adjustments"})
			return
		}
		s.createAdjustment(c, p, user)
	}
}

// createPurchase 计算积分：基础积分 + 兑换的促销 + 满足条件的自动促销。
// 可疑收银员创建的交易照常记录，但不计入余额。
func (s *Server) createPurchase(c *gin.Context, p validate.Payload, user *model.User) {
	cashier := middleware.CurrentUser(c)
	spent, ok := p.PositiveNumber("spent")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spent must be a positive number"})
		return
	}
	remark, ok := optionalRemark(c, p)
	if !ok {
		return
	}
	requested, ok := s.requestedPromotions(c, p, user)
	if !ok {
		return
	}
	now := s.now()
	for i := range requested {
		promo := &requested[i]
		if promo.MinSpending != nil && *promo.MinSpending > spent {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("promotion %d requires a minimum spend", promo.ID)})
			return
		}
		if !promo.IsActive(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("promotion %d is not active", promo.ID)})
			return
		}
	}

	ctx := c.Request.Context()
	automatic, err := s.store.ActiveAutomaticPromotions(ctx, now)
	if err != nil {
		s.storeError(c, "load promotions", err)
		return
	}
	b := points.Purchase(spent, requested, automatic, now)

	credit := b.Total()
	if cashier.Suspicious {
		credit = 0
	}
	t := &model.Transaction{
		UserID:     user.ID,
		Utorid:     user.Utorid,
		Type:       model.TransactionPurchase,
		Spent:      &spent,
		Amount:     b.Total(),
		Remark:     remark,
		CreatedBy:  cashier.Utorid,
		Suspicious: cashier.Suspicious,
	}
	if err := s.store.RecordTransaction(ctx, store.Record{
		Transaction:  t,
		PromotionIDs: b.Applied,
		Detach:       b.Redeemed,
		Credit:       credit,
	}); err != nil {
		s.storeError(c, "record purchase", err)
		return
	}

	s.recordMetrics(t, credit)
	s.logger.Info("purchase recorded",
		slog.Uint64("transaction_id", uint64(t.ID)),
		slog.String("utorid", user.Utorid),
		slog.Int64("amount", t.Amount),
		slog.Bool("suspicious", t.Suspicious),
	)
	c.JSON(http.StatusCreated, gin.H{
		"id":           t.ID,
		"utorid":       t.Utorid,
		"type":         t.Type,
		"spent":        spent,
		"earned":       credit,
		"remark":       t.Remark,
		"promotionIds": t.PromotionIDs(),
		"createdBy":    t.CreatedBy,
	})
}

// createAdjustment 直接把带符号的 amount 加到余额，必须引用已有交易。
func (s *Server) createAdjustment(c *gin.Context, p validate.Payload, user *model.User) {
	manager := middleware.CurrentUser(c)
	amount, ok := p.Int("amount")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be an integer"})
		return
	}
	relatedID, ok := p.PositiveInt("relatedId")
	if !ok || relatedID > int64(^uint32(0)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "relatedId must be a transaction id"})
		return
	}
	remark, ok := optionalRemark(c, p)
	if !ok {
		return
	}
	requested, ok := s.requestedPromotions(c, p, user)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	related := uint(relatedID)
	if _, err := s.store.GetTransaction(ctx, related); err != nil {
		s.storeError(c, "get related transaction", err)
		return
	}

	applied := make([]uint, 0, len(requested))
	var detach []uint
	for _, promo := range requested {
		applied = append(applied, promo.ID)
		if promo.Type == model.PromotionOneTime {
			detach = append(detach, promo.ID)
		}
	}
	t := &model.Transaction{
		UserID:    user.ID,
		Utorid:    user.Utorid,
		Type:      model.TransactionAdjustment,
		Amount:    amount,
		Remark:    remark,
		CreatedBy: manager.Utorid,
		RelatedID: &related,
	}
	if err := s.store.RecordTransaction(ctx, store.Record{
		Transaction:  t,
		PromotionIDs: applied,
		Detach:       detach,
		Credit:       amount,
	}); err != nil {
		s.storeError(c, "record adjustment", err)
		return
	}

	s.recordMetrics(t, amount)
	c.JSON(http.StatusCreated, gin.H{
		"id":           t.ID,
		"utorid":       t.Utorid,
		"amount":       t.Amount,
		"type":         t.Type,
		"relatedId":    related,
		"remark":       t.Remark,
		"promotionIds": t.PromotionIDs(),
		"createdBy":    t.CreatedBy,
	})
}

func (s *Server) recordMetrics(t *model.Transaction, credited int64) {
	metrics.TransactionsTotal.WithLabelValues(string(t.Type), strconv.FormatBool(t.Suspicious)).Inc()
	if credited > 0 {
		metrics.PointsCreditedTotal.WithLabelValues(string(t.Type)).Add(float64(credited))
	}
}

func (s *Server) handleListTransactions(c *gin.Context) {
	f := store.TransactionFilter{
		Utorid:    c.Query("utorid"),
		CreatedBy: c.Query("createdBy"),
	}
	if raw := c.Query("type"); raw != "" {
		typ, ok := parseTransactionType(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
			return
		}
		f.Type = typ
	}
	var ok bool
	if f.Suspicious, ok = queryBool(c, "suspicious"); !ok {
		return
	}
	if f.Page, f.Limit, ok = pagination(c); !ok {
		return
	}

	txs, count, err := s.store.ListTransactions(c.Request.Context(), f)
	if err != nil {
		s.storeError(c, "list transactions", err)
		return
	}
	results := make([]gin.H, 0, len(txs))
	for i := range txs {
		results = append(results, transactionView(&txs[i]))
	}
	c.JSON(http.StatusOK, listResponse(count, results))
}

func (s *Server) handleGetTransaction(c *gin.Context) {
	id, ok := pathID(c, "transactionId")
	if !ok {
		return
	}
	t, err := s.store.GetTransaction(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get transaction", err)
		return
	}
	c.JSON(http.StatusOK, transactionView(t))
}
