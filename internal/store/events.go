package store

import (
	"context"
	"fmt"
	"time"

	"pointshub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventFilter narrows ListEvents.
type EventFilter struct {
	Name      string
	Location  string
	Started   *bool
	Ended     *bool
	HideFull  bool
	Published *bool
	Now       time.Time
	Page      int
	Limit     int
}

func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(e).Error; err != nil {
		return translate(err)
	}
	return nil
}

// GetEvent 加载活动及其组织者和来宾。
func (s *Store) GetEvent(ctx context.Context, id uint) (*model.Event, error) {
	var e model.Event
	if err := s.db.WithContext(ctx).Preload("Organizers").Preload("Guests").First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Event{})
	if f.Name != "" {
		q = q.Where("name = ?", f.Name)
	}
	if f.Location != "" {
		q = q.Where("location = ?", f.Location)
	}
	if f.Started != nil {
		if *f.Started {
			q = q.Where("start_time <= ?", f.Now)
		} else {
			q = q.Where("start_time > ?", f.Now)
		}
	}
	if f.Ended != nil {
		if *f.Ended {
			q = q.Where("end_time <= ?", f.Now)
		} else {
			q = q.Where("end_time > ?", f.Now)
		}
	}
	if f.HideFull {
		q = q.Where("capacity IS NULL OR num_guests < capacity")
	}
	if f.Published != nil {
		q = q.Where("published = ?", *f.Published)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	var out []model.Event
	if err := q.Scopes(paginate(f.Page, f.Limit)).Order("start_time, id").Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return out, count, nil
}

// UpdateEvent applies column updates and returns the reloaded event.
func (s *Store) UpdateEvent(ctx context.Context, id uint, updates map[string]any) (*model.Event, error) {
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&model.Event{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, translate(err)
		}
	}
	return s.GetEvent(ctx, id)
}

// DeleteEvent 删除活动及其关联行。
func (s *Store) DeleteEvent(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM event_organizers WHERE event_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete organizers: %w", err)
		}
		if err := tx.Exec("DELETE FROM event_guests WHERE event_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete guests: %w", err)
		}
		res := tx.Delete(&model.Event{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// lockEvent 在事务内对活动行加写锁。
func lockEvent(tx *gorm.DB, id uint) (*model.Event, error) {
	var e model.Event
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func isMember(tx *gorm.DB, table string, eventID, userID uint) (bool, error) {
	var n int64
	err := tx.Table(table).Where("event_id = ? AND user_id = ?", eventID, userID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return n > 0, nil
}

// AddOrganizer 添加组织者。来宾不能成为组织者。
func (s *Store) AddOrganizer(ctx context.Context, eventID, userID uint, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := lockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if e.HasEnded(now) {
			return ErrEventEnded
		}
		guest, err := isMember(tx, "event_guests", eventID, userID)
		if err != nil {
			return err
		}
		if guest {
			return ErrIsGuest
		}
		organizer, err := isMember(tx, "event_organizers", eventID, userID)
		if err != nil {
			return err
		}
		if organizer {
			return nil
		}
		if err := tx.Exec("INSERT INTO event_organizers (event_id, user_id) VALUES (?, ?)", eventID, userID).Error; err != nil {
			return fmt.Errorf("insert organizer: %w", err)
		}
		return nil
	})
}

func (s *Store) RemoveOrganizer(ctx context.Context, eventID, userID uint) error {
	res := s.db.WithContext(ctx).Exec("DELETE FROM event_organizers WHERE event_id = ? AND user_id = ?", eventID, userID)
	if res.Error != nil {
		return fmt.Errorf("remove organizer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddGuest 在行锁保护下复查容量与身份，然后写入来宾并递增 num_guests。
func (s *Store) AddGuest(ctx context.Context, eventID, userID uint, now time.Time) (*model.Event, error) {
	var out *model.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := lockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if e.HasEnded(now) {
			return ErrEventEnded
		}
		organizer, err := isMember(tx, "event_organizers", eventID, userID)
		if err != nil {
			return err
		}
		if organizer {
			return ErrIsOrganizer
		}
		guest, err := isMember(tx, "event_guests", eventID, userID)
		if err != nil {
			return err
		}
		if guest {
			return ErrAlreadyGuest
		}
		if e.IsFull() {
			return ErrEventFull
		}
		if err := tx.Exec("INSERT INTO event_guests (event_id, user_id) VALUES (?, ?)", eventID, userID).Error; err != nil {
			return fmt.Errorf("insert guest: %w", err)
		}
		if err := tx.Model(&model.Event{}).Where("id = ?", eventID).
			Update("num_guests", gorm.Expr("num_guests + 1")).Error; err != nil {
			return fmt.Errorf("bump guests: %w", err)
		}
		e.NumGuests++
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveGuest 删除来宾并递减 num_guests。
func (s *Store) RemoveGuest(ctx context.Context, eventID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockEvent(tx, eventID); err != nil {
			return err
		}
		res := tx.Exec("DELETE FROM event_guests WHERE event_id = ? AND user_id = ?", eventID, userID)
		if res.Error != nil {
			return fmt.Errorf("remove guest: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&model.Event{}).Where("id = ? AND num_guests > 0", eventID).
			Update("num_guests", gorm.Expr("num_guests - 1")).Error; err != nil {
			return fmt.Errorf("drop guests: %w", err)
		}
		return nil
	})
}
