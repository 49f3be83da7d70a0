package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pointshub/internal/api/middleware"
	"pointshub/internal/api/validate"
	"pointshub/internal/export"
	"pointshub/internal/model"
	"pointshub/internal/store"

	"github.com/gin-gonic/gin"
)

var eventFields = []string{"name", "description", "location", "startTime", "endTime", "capacity", "points", "published"}

// eventRoles reports whether the caller manages events in general and whether they organize e.
func eventRoles(c *gin.Context, e *model.Event) (manager, organizer bool) {
	me := middleware.CurrentUser(c)
	return me.Role.AtLeast(model.RoleManager), e.IsOrganizer(me.ID)
}

// membershipError 把 store 的来宾/组织者错误映射为状态码。
func (s *Server) membershipError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrEventEnded):
		c.JSON(http.StatusGone, gin.H{"error": "event has ended"})
	case errors.Is(err, store.ErrEventFull):
		c.JSON(http.StatusGone, gin.H{"error": "event is full"})
	case errors.Is(err, store.ErrIsOrganizer):
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is an organizer of this event"})
	case errors.Is(err, store.ErrAlreadyGuest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is already a guest"})
	case errors.Is(err, store.ErrIsGuest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "guests cannot be organizers"})
	default:
		s.storeError(c, op, err)
	}
}

func (s *Server) handleCreateEvent(c *gin.Context) {
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
	location, ok := p.String("location")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location"})
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
	var capacity *int
	if p.Has("capacity") {
		v, ok := p.PositiveInt("capacity")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "capacity must be a positive integer"})
			return
		}
		n := int(v)
		capacity = &n
	}
	points, ok := p.PositiveInt("points")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "points must be a positive integer"})
		return
	}

	e := &model.Event{
		Name:         name,
		Description:  description,
		Location:     location,
		StartTime:    start,
		EndTime:      end,
		Capacity:     capacity,
		PointsRemain: points,
	}
	if err := s.store.CreateEvent(c.Request.Context(), e); err != nil {
		s.storeError(c, "create event", err)
		return
	}
	s.logger.Info("event created", slog.Uint64("event_id", uint64(e.ID)), slog.String("by", middleware.CurrentUser(c).Utorid))
	c.JSON(http.StatusCreated, eventView(e, true))
}

// handleListEvents 经理以下只能看到已发布活动，且不含积分字段。
func (s *Server) handleListEvents(c *gin.Context) {
	me := middleware.CurrentUser(c)
	f := store.EventFilter{Name: c.Query("name"), Location: c.Query("location"), Now: s.now()}

	var ok bool
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
	showFull, ok := queryBool(c, "showFull")
	if !ok {
		return
	}
	f.HideFull = showFull == nil || !*showFull

	if me.Role.AtLeast(model.RoleManager) {
		if f.Published, ok = queryBool(c, "published"); !ok {
			return
		}
	} else {
		published := true
		f.Published = &published
	}
	if f.Page, f.Limit, ok = pagination(c); !ok {
		return
	}

	events, count, err := s.store.ListEvents(c.Request.Context(), f)
	if err != nil {
		s.storeError(c, "list events", err)
		return
	}
	results := make([]gin.H, 0, len(events))
	for i := range events {
		results = append(results, eventListItem(&events[i], me.Role))
	}
	c.JSON(http.StatusOK, listResponse(count, results))
}

func (s *Server) handleGetEvent(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	e, err := s.store.GetEvent(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	manager, organizer := eventRoles(c, e)
	full := manager || organizer
	if !full && !e.Published {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, eventView(e, full))
}

// handleUpdateEvent 活动开始后任何修改都会被拒绝。
func (s *Server) handleUpdateEvent(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	manager, organizer := eventRoles(c, e)
	if !manager && !organizer {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to update this event"})
		return
	}
	p, ok := bindPayload(c)
	if !ok {
		return
	}
	if p.Empty(eventFields...) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}
	now := s.now()
	if e.HasStarted(now) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event has already started"})
		return
	}

	updates := map[string]any{}
	out := gin.H{"id": e.ID, "name": e.Name, "location": e.Location}
	for _, key := range []string{"name", "description", "location"} {
		if !p.Has(key) {
			continue
		}
		v, ok := p.String(key)
		if !ok || (key == "name" && v == "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
			return
		}
		updates[key] = v
		out[key] = v
	}

	start, end := e.StartTime, e.EndTime
	if p.Has("startTime") {
		raw, _ := p.String("startTime")
		t, ok := validate.ParseTime(raw)
		if !ok || t.Before(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startTime"})
			return
		}
		start = t
		updates["start_time"] = t
		out["startTime"] = t
	}
	if p.Has("endTime") {
		raw, _ := p.String("endTime")
		t, ok := validate.ParseTime(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endTime"})
			return
		}
		end = t
		updates["end_time"] = t
		out["endTime"] = t
	}
	if end.Before(start) {
		field := "endTime"
		if !p.Has("endTime") {
			field = "startTime"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + field})
		return
	}

	if p.Has("capacity") {
		v, ok := p.PositiveInt("capacity")
		if !ok || v < int64(e.NumGuests) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "capacity must be a positive integer not below the guest count"})
			return
		}
		updates["capacity"] = int(v)
		out["capacity"] = int(v)
	}
	if p.Has("points") {
		v, ok := p.PositiveInt("points")
		if !ok || v < e.PointsAwarded {
			c.JSON(http.StatusBadRequest, gin.H{"error": "points must be a positive integer not below points awarded"})
			return
		}
		if !manager {
			c.JSON(http.StatusForbidden, gin.H{"error": "only managers can change points"})
			return
		}
		updates["points_remain"] = v - e.PointsAwarded
		out["pointsRemain"] = v - e.PointsAwarded
	}
	if p.Has("published") {
		v, ok := p["published"].(bool)
		if !ok || !v {
			c.JSON(http.StatusBadRequest, gin.H{"error": "published can only be set to true"})
			return
		}
		if !manager {
			c.JSON(http.StatusForbidden, gin.H{"error": "only managers can publish events"})
			return
		}
		updates["published"] = true
		out["published"] = true
	}

	if _, err := s.store.UpdateEvent(ctx, id, updates); err != nil {
		s.storeError(c, "update event", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteEvent(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	if e.Published {
		c.JSON(http.StatusBadRequest, gin.H{"error": "published events cannot be deleted"})
		return
	}
	if err := s.store.DeleteEvent(ctx, id); err != nil {
		s.storeError(c, "delete event", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// targetUser 读取 payload 中的 utorid 并加载用户。
func (s *Server) targetUser(c *gin.Context) (*model.User, bool) {
	p, ok := bindPayload(c)
	if !ok {
		return nil, false
	}
	utorid, ok := p.String("utorid")
	if !ok || utorid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid is required"})
		return nil, false
	}
	u, err := s.store.GetUserByUtorid(c.Request.Context(), utorid)
	if err != nil {
		s.storeError(c, "get user", err)
		return nil, false
	}
	return u, true
}

func (s *Server) handleAddOrganizer(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	u, ok := s.targetUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.AddOrganizer(ctx, id, u.ID, s.now()); err != nil {
		s.membershipError(c, "add organizer", err)
		return
	}
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         e.ID,
		"name":       e.Name,
		"location":   e.Location,
		"organizers": userRefs(e.Organizers),
	})
}

func (s *Server) handleRemoveOrganizer(c *gin.Context) {
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		s.storeError(c, "get event", err)
		return
	}
	if err := s.store.RemoveOrganizer(ctx, eventID, userID); err != nil {
		s.storeError(c, "remove organizer", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleAddGuest 经理或该活动组织者可添加来宾。
func (s *Server) handleAddGuest(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	u, ok := s.targetUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	now := s.now()
	if e.HasEnded(now) || e.IsFull() {
		c.JSON(http.StatusGone, gin.H{"error": "event is full or has ended"})
		return
	}
	manager, organizer := eventRoles(c, e)
	if !manager && !organizer {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to add guests to this event"})
		return
	}
	s.addGuest(c, e.ID, u, now)
}

// handleJoinEvent 当前用户报名已发布的活动。
func (s *Server) handleJoinEvent(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	me := middleware.CurrentUser(c)
	e, err := s.store.GetEvent(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	if !e.Published {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.addGuest(c, e.ID, me, s.now())
}

func (s *Server) addGuest(c *gin.Context, eventID uint, u *model.User, now time.Time) {
	e, err := s.store.AddGuest(c.Request.Context(), eventID, u.ID, now)
	if err != nil {
		s.membershipError(c, "add guest", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         e.ID,
		"name":       e.Name,
		"location":   e.Location,
		"guestAdded": userRef(u),
		"numGuests":  e.NumGuests,
	})
}

func (s *Server) handleRemoveGuest(c *gin.Context) {
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	if err := s.store.RemoveGuest(c.Request.Context(), eventID, userID); err != nil {
		s.storeError(c, "remove guest", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLeaveEvent(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	me := middleware.CurrentUser(c)
	ctx := c.Request.Context()
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	if !e.IsGuest(me.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not a guest of this event"})
		return
	}
	if e.HasEnded(s.now()) {
		c.JSON(http.StatusGone, gin.H{"error": "event has ended"})
		return
	}
	if err := s.store.RemoveGuest(ctx, id, me.ID); err != nil {
		s.storeError(c, "remove guest", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExportGuests(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	e, err := s.store.GetEvent(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	manager, organizer := eventRoles(c, e)
	if !manager && !organizer {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to export guests"})
		return
	}
	data, err := export.GuestsXLSX(e)
	if err != nil {
		s.logger.Error("export guests failed", slog.Uint64("event_id", uint64(id)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export guests failed"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.GuestsFilename(e)))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) handleEventCalendar(c *gin.Context) {
	id, ok := pathID(c, "eventId")
	if !ok {
		return
	}
	e, err := s.store.GetEvent(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get event", err)
		return
	}
	manager, organizer := eventRoles(c, e)
	if !e.Published && !manager && !organizer {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	data, err := export.EventICS(e, s.now())
	if err != nil {
		s.logger.Error("export calendar failed", slog.Uint64("event_id", uint64(id)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export calendar failed"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.CalendarFilename(e)))
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", data)
}
