// Package store is the MySQL persistence layer.
package store

import (
	"errors"
	"fmt"

	"pointshub/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate key")
	ErrEventEnded   = errors.New("event has ended")
	ErrEventFull    = errors.New("event is full")
	ErrAlreadyGuest = errors.New("user is already a guest")
	ErrIsOrganizer  = errors.New("user is an organizer")
	ErrIsGuest      = errors.New("user is a guest")

	// ErrPromotionUsed 一次性促销已被并发的交易核销。
	ErrPromotionUsed = errors.New("promotion already used")
)

// Store 封装 GORM 连接，所有方法都接受请求上下文。
type Store struct {
	db *gorm.DB
}

// New wraps an open connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open 连接 MySQL。GORM 自带日志关闭，驱动错误翻译为 gorm 的通用错误。
func Open(dsn string) (*gorm.DB, error) {
	return OpenDialector(mysql.Open(dsn))
}

// OpenDialector opens any MySQL-flavoured dialector with the store's settings.
func OpenDialector(d gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(d, &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table, join tables included.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Promotion{}, &model.Event{}, &model.Transaction{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close 关闭底层连接池。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

func paginate(page, limit int) func(*gorm.DB) *gorm.DB {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((page - 1) * limit).Limit(limit)
	}
}
