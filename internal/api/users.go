package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"pointshub/internal/api/middleware"
	"pointshub/internal/api/validate"
	"pointshub/internal/model"
	"pointshub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// handleCreateUser 注册新用户并签发激活令牌，新用户自动关联所有现有促销。
func (s *Server) handleCreateUser(c *gin.Context) {
	p, ok := bindPayload(c)
	if !ok {
		return
	}
	utorid, ok := p.String("utorid")
	if !ok || !validate.Utorid(utorid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid must be 7-8 lowercase letters or digits"})
		return
	}
	name, ok := p.String("name")
	if !ok || !validate.Name(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 1-50 characters"})
		return
	}
	email, ok := p.String("email")
	if !ok || !validate.Email(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}

	token := uuid.NewString()
	exp := s.now().Add(s.cfg.App.ActivationTTL)
	u := &model.User{
		Utorid:     utorid,
		Name:       name,
		Email:      email,
		Role:       model.RoleRegular,
		ResetToken: &token,
		ExpiresAt:  &exp,
	}
	ctx := c.Request.Context()
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "user with this utorid or email already exists"})
			return
		}
		s.storeError(c, "create user", err)
		return
	}
	if err := s.notifier.SendActivation(ctx, u.Email, u.Utorid, token, exp); err != nil {
		s.logger.Warn("queue activation email failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
	}

	s.logger.Info("user registered", slog.String("utorid", utorid), slog.String("by", middleware.CurrentUser(c).Utorid))
	c.JSON(http.StatusCreated, gin.H{
		"id":         u.ID,
		"utorid":     u.Utorid,
		"name":       u.Name,
		"email":      u.Email,
		"verified":   u.Verified,
		"expiresAt":  exp,
		"resetToken": token,
	})
}

func (s *Server) handleListUsers(c *gin.Context) {
	f := store.UserFilter{Name: c.Query("name")}
	if raw := c.Query("role"); raw != "" {
		role, ok := model.ParseRole(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		f.Role = role
	}
	var ok bool
	if f.Verified, ok = queryBool(c, "verified"); !ok {
		return
	}
	if f.Activated, ok = queryBool(c, "activated"); !ok {
		return
	}
	if f.Page, f.Limit, ok = pagination(c); !ok {
		return
	}

	users, count, err := s.store.ListUsers(c.Request.Context(), f)
	if err != nil {
		s.storeError(c, "list users", err)
		return
	}
	results := make([]gin.H, 0, len(users))
	for i := range users {
		results = append(results, profileView(&users[i]))
	}
	c.JSON(http.StatusOK, listResponse(count, results))
}

func (s *Server) handleGetUser(c *gin.Context) {
	id, ok := pathID(c, "userId")
	if !ok {
		return
	}
	u, err := s.store.GetUserByID(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get user", err)
		return
	}
	c.JSON(http.StatusOK, userView(u, middleware.CurrentUser(c).Role))
}

// handleUpdateUser 修改用户状态。经理只能把角色设为 regular 或 cashier。
func (s *Server) handleUpdateUser(c *gin.Context) {
	id, ok := pathID(c, "userId")
	if !ok {
		return
	}
	p, ok := bindPayload(c)
	if !ok {
		return
	}
	if p.Empty("email", "verified", "suspicious", "role") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	updates := map[string]any{}
	fields := []string{}
	if p.Has("email") {
		email, ok := p.String("email")
		if !ok || !validate.Email(email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		}
		updates["email"] = email
		fields = append(fields, "email")
	}
	if p.Has("suspicious") {
		v, ok := p.Bool("suspicious")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "suspicious must be a boolean"})
			return
		}
		updates["suspicious"] = v
		fields = append(fields, "suspicious")
	}
	if p.Has("verified") {
		v, ok := p.Bool("verified")
		if !ok || !v {
			c.JSON(http.StatusBadRequest, gin.H{"error": "verified can only be set to true"})
			return
		}
		updates["verified"] = true
		fields = append(fields, "verified")
	}
	if p.Has("role") {
		raw, _ := p.String("role")
		role, ok := model.ParseRole(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		viewer := middleware.CurrentUser(c).Role
		if !viewer.AtLeast(model.RoleSuperuser) && role.AtLeast(model.RoleManager) {
			c.JSON(http.StatusForbidden, gin.H{"error": "managers can only assign regular or cashier"})
			return
		}
		updates["role"] = role
		fields = append(fields, "role")
	}

	u, err := s.store.UpdateUser(c.Request.Context(), id, updates)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already in use"})
			return
		}
		s.storeError(c, "update user", err)
		return
	}

	full := profileView(u)
	full["suspicious"] = u.Suspicious
	out := gin.H{"id": u.ID, "utorid": u.Utorid, "name": u.Name}
	for _, f := range fields {
		out[f] = full[f]
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetMe(c *gin.Context) {
	me := middleware.CurrentUser(c)
	u, err := s.store.GetUserByID(c.Request.Context(), me.ID)
	if err != nil {
		s.storeError(c, "get profile", err)
		return
	}
	c.JSON(http.StatusOK, meView(u))
}

// handleUpdateMe 更新本人资料，支持 JSON 或 multipart（avatar 文件）。
func (s *Server) handleUpdateMe(c *gin.Context) {
	me := middleware.CurrentUser(c)

	var (
		p      validate.Payload
		avatar *multipart.FileHeader
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		p = validate.Payload{}
		for _, key := range []string{"name", "email", "birthday"} {
			if vs := form.Value[key]; len(vs) > 0 {
				p[key] = vs[0]
			}
		}
		if files := form.File["avatar"]; len(files) > 0 {
			avatar = files[0]
		}
	} else {
		var ok bool
		if p, ok = bindPayload(c); !ok {
			return
		}
	}
	if p.Empty("name", "email", "birthday") && avatar == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	updates := map[string]any{}
	if p.Has("name") {
		name, ok := p.String("name")
		if !ok || !validate.Name(name) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 1-50 characters"})
			return
		}
		updates["name"] = name
	}
	if p.Has("email") {
		email, ok := p.String("email")
		if !ok || !validate.Email(email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		}
		updates["email"] = email
	}
	if p.Has("birthday") {
		birthday, ok := p.String("birthday")
		if !ok || !validate.Birthday(birthday, s.now()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "birthday must be a valid YYYY-MM-DD date"})
			return
		}
		updates["birthday"] = birthday
	}
	if avatar != nil {
		name := fmt.Sprintf("%s-%d%s", me.Utorid, s.now().UnixNano(), strings.ToLower(filepath.Ext(avatar.Filename)))
		if err := c.SaveUploadedFile(avatar, filepath.Join(s.cfg.App.UploadDir, name)); err != nil {
			s.logger.Error("save avatar failed", slog.String("utorid", me.Utorid), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save avatar failed"})
			return
		}
		updates["avatar_url"] = "/uploads/" + name
	}

	u, err := s.store.UpdateUser(c.Request.Context(), me.ID, updates)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already in use"})
			return
		}
		s.storeError(c, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, profileView(u))
}

// handleChangePassword 校验旧密码后设置新密码。
func (s *Server) handleChangePassword(c *gin.Context) {
	me := middleware.CurrentUser(c)
	p, ok := bindPayload(c)
	if !ok {
		return
	}
	oldPwd, ok := p.String("old")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "old password is required"})
		return
	}
	newPwd, ok := p.String("new")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new password is required"})
		return
	}
	if me.Password == "" || bcrypt.CompareHashAndPassword([]byte(me.Password), []byte(oldPwd)) != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "incorrect current password"})
		return
	}
	if !validate.Password(newPwd) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be 8-20 characters with upper, lower, digit and special character"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPwd), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if err := s.store.SetPassword(c.Request.Context(), me.ID, string(hash)); err != nil {
		s.storeError(c, "set password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}
