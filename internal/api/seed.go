package api

import (
	"context"
	"fmt"
	"log/slog"

	"pointshub/internal/api/validate"
	"pointshub/internal/model"

	"golang.org/x/crypto/bcrypt"
)

// SeedSuperuser 确保配置的超级用户存在。未配置 utorid 时跳过。
func (s *Server) SeedSuperuser(ctx context.Context) error {
	utorid := s.cfg.App.SuperuserUtorid
	if utorid == "" {
		return nil
	}
	if !validate.Utorid(utorid) {
		return fmt.Errorf("seed superuser: invalid utorid %q", utorid)
	}
	if s.cfg.App.SuperuserPassword == "" {
		return fmt.Errorf("seed superuser: password is empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.App.SuperuserPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("seed superuser: %w", err)
	}
	u := &model.User{
		Utorid:    utorid,
		Name:      utorid,
		Email:     utorid + ".admin@mail.utoronto.ca",
		Password:  string(hash),
		Activated: true,
	}
	if err := s.store.EnsureSuperuser(ctx, u); err != nil {
		return fmt.Errorf("seed superuser: %w", err)
	}
	s.logger.Info("superuser ensured", slog.String("utorid", utorid))
	return nil
}
