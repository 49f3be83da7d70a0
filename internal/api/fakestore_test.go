package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"pointshub/internal/model"
	"pointshub/internal/store"
)

// fakeStore 是 Store 的内存实现，行为与 MySQL 版本的约束保持一致。
type fakeStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*model.User
	events map[uint]*model.Event
	promos map[uint]*model.Promotion
	txs    map[uint]*model.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[uint]*model.User{},
		events: map[uint]*model.Event{},
		promos: map[uint]*model.Promotion{},
		txs:    map[uint]*model.Transaction{},
	}
}

func (f *fakeStore) id() uint {
	f.nextID++
	return f.nextID
}

func copyUser(u *model.User) *model.User {
	cp := *u
	cp.Promotions = append([]model.Promotion(nil), u.Promotions...)
	return &cp
}

func copyEvent(e *model.Event) *model.Event {
	cp := *e
	cp.Organizers = append([]model.User(nil), e.Organizers...)
	cp.Guests = append([]model.User(nil), e.Guests...)
	return &cp
}

func sortedIDs[T any](m map[uint]T) []uint {
	ids := make([]uint, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeStore) userByUtorid(utorid string) *model.User {
	for _, u := range f.users {
		if u.Utorid == utorid {
			return u
		}
	}
	return nil
}

func (f *fakeStore) GetUserByUtorid(_ context.Context, utorid string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.userByUtorid(utorid); u != nil {
		return copyUser(u), nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserWithPromotions(ctx context.Context, utorid string) (*model.User, error) {
	return f.GetUserByUtorid(ctx, utorid)
}

func (f *fakeStore) GetUserByID(_ context.Context, id uint) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (f *fakeStore) GetUserByResetToken(_ context.Context, token string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ResetToken != nil && *u.ResetToken == token {
			return copyUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

// CreateUser 与 MySQL 实现一致：新用户关联所有现有促销。
func (f *fakeStore) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.users {
		if other.Utorid == u.Utorid || other.Email == u.Email {
			return store.ErrDuplicate
		}
	}
	u.ID = f.id()
	if u.Role == "" {
		u.Role = model.RoleRegular
	}
	u.Promotions = nil
	for _, id := range sortedIDs(f.promos) {
		u.Promotions = append(u.Promotions, *f.promos[id])
	}
	f.users[u.ID] = copyUser(u)
	return nil
}

func (f *fakeStore) ListUsers(_ context.Context, filter store.UserFilter) ([]model.User, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.User
	for _, id := range sortedIDs(f.users) {
		u := f.users[id]
		if filter.Name != "" && u.Name != filter.Name {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Verified != nil && u.Verified != *filter.Verified {
			continue
		}
		out = append(out, *copyUser(u))
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) UpdateUser(_ context.Context, id uint, updates map[string]any) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if email, ok := updates["email"].(string); ok {
		for _, other := range f.users {
			if other.ID != id && other.Email == email {
				return nil, store.ErrDuplicate
			}
		}
	}
	for k, v := range updates {
		switch k {
		case "name":
			u.Name = v.(string)
		case "email":
			u.Email = v.(string)
		case "birthday":
			b := v.(string)
			u.Birthday = &b
		case "avatar_url":
			a := v.(string)
			u.AvatarURL = &a
		case "suspicious":
			u.Suspicious = v.(bool)
		case "verified":
			u.Verified = v.(bool)
		case "role":
			u.Role = v.(model.Role)
		}
	}
	return copyUser(u), nil
}

func (f *fakeStore) TouchLogin(_ context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.LastLogin = &at
		u.Activated = true
	}
	return nil
}

func (f *fakeStore) SetResetToken(_ context.Context, id uint, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.ResetToken = &token
		u.ExpiresAt = &expiresAt
	}
	return nil
}

func (f *fakeStore) CompleteReset(_ context.Context, id uint, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.Password = hash
		u.ResetToken = nil
		u.ExpiresAt = nil
	}
	return nil
}

func (f *fakeStore) ClearExpiredResetTokens(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, u := range f.users {
		if u.ResetToken != nil && u.ExpiresAt != nil && u.ExpiresAt.Before(before) {
			u.ResetToken = nil
			u.ExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetPassword(_ context.Context, id uint, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.Password = hash
	}
	return nil
}

func (f *fakeStore) EnsureSuperuser(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	if existing := f.userByUtorid(u.Utorid); existing != nil {
		existing.Role = model.RoleSuperuser
		existing.Verified = true
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	u.Role = model.RoleSuperuser
	u.Verified = true
	return f.CreateUser(ctx, u)
}

func (f *fakeStore) CreateEvent(_ context.Context, e *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = f.id()
	f.events[e.ID] = copyEvent(e)
	return nil
}

func (f *fakeStore) GetEvent(_ context.Context, id uint) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyEvent(e), nil
}

func (f *fakeStore) ListEvents(_ context.Context, filter store.EventFilter) ([]model.Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, id := range sortedIDs(f.events) {
		e := f.events[id]
		if filter.Published != nil && e.Published != *filter.Published {
			continue
		}
		if filter.HideFull && e.IsFull() {
			continue
		}
		if filter.Name != "" && e.Name != filter.Name {
			continue
		}
		out = append(out, *copyEvent(e))
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) UpdateEvent(_ context.Context, id uint, updates map[string]any) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "name":
			e.Name = v.(string)
		case "description":
			e.Description = v.(string)
		case "location":
			e.Location = v.(string)
		case "start_time":
			e.StartTime = v.(time.Time)
		case "end_time":
			e.EndTime = v.(time.Time)
		case "capacity":
			c := v.(int)
			e.Capacity = &c
		case "points_remain":
			e.PointsRemain = v.(int64)
		case "published":
			e.Published = v.(bool)
		}
	}
	return copyEvent(e), nil
}

func (f *fakeStore) DeleteEvent(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.events, id)
	return nil
}

func (f *fakeStore) AddOrganizer(_ context.Context, eventID, userID uint, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	u, uok := f.users[userID]
	if !ok || !uok {
		return store.ErrNotFound
	}
	if e.HasEnded(now) {
		return store.ErrEventEnded
	}
	if e.IsGuest(userID) {
		return store.ErrIsGuest
	}
	if !e.IsOrganizer(userID) {
		e.Organizers = append(e.Organizers, *u)
	}
	return nil
}

func (f *fakeStore) RemoveOrganizer(_ context.Context, eventID, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok || !e.IsOrganizer(userID) {
		return store.ErrNotFound
	}
	kept := e.Organizers[:0]
	for _, u := range e.Organizers {
		if u.ID != userID {
			kept = append(kept, u)
		}
	}
	e.Organizers = kept
	return nil
}

func (f *fakeStore) AddGuest(_ context.Context, eventID, userID uint, now time.Time) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	u, uok := f.users[userID]
	if !ok || !uok {
		return nil, store.ErrNotFound
	}
	switch {
	case e.HasEnded(now):
		return nil, store.ErrEventEnded
	case e.IsOrganizer(userID):
		return nil, store.ErrIsOrganizer
	case e.IsGuest(userID):
		return nil, store.ErrAlreadyGuest
	case e.IsFull():
		return nil, store.ErrEventFull
	}
	e.Guests = append(e.Guests, *u)
	e.NumGuests++
	return copyEvent(e), nil
}

func (f *fakeStore) RemoveGuest(_ context.Context, eventID, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok || !e.IsGuest(userID) {
		return store.ErrNotFound
	}
	kept := e.Guests[:0]
	for _, u := range e.Guests {
		if u.ID != userID {
			kept = append(kept, u)
		}
	}
	e.Guests = kept
	e.NumGuests--
	return nil
}

// CreatePromotion 与 MySQL 实现一致：关联所有现有用户。
func (f *fakeStore) CreatePromotion(_ context.Context, p *model.Promotion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.id()
	cp := *p
	f.promos[p.ID] = &cp
	for _, u := range f.users {
		u.Promotions = append(u.Promotions, cp)
	}
	return nil
}

func (f *fakeStore) GetPromotion(_ context.Context, id uint) (*model.Promotion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) PromotionsByID(_ context.Context, ids []uint) ([]model.Promotion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Promotion
	for _, id := range ids {
		if p, ok := f.promos[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveAutomaticPromotions(_ context.Context, now time.Time) ([]model.Promotion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Promotion
	for _, id := range sortedIDs(f.promos) {
		p := f.promos[id]
		if p.Type == model.PromotionAutomatic && p.IsActive(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPromotions(_ context.Context, filter store.PromotionFilter) ([]model.Promotion, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Promotion
	for _, id := range sortedIDs(f.promos) {
		p := f.promos[id]
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		if filter.ActiveAt != nil && !p.IsActive(*filter.ActiveAt) {
			continue
		}
		if filter.AvailableTo != 0 {
			available := false
			if u, ok := f.users[filter.AvailableTo]; ok {
				for _, up := range u.Promotions {
					available = available || up.ID == id
				}
			}
			if !available {
				continue
			}
		}
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) RecordTransaction(_ context.Context, r store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[r.Transaction.UserID]
	if !ok {
		return store.ErrNotFound
	}
	for _, id := range r.Detach {
		held := false
		for _, p := range u.Promotions {
			if p.ID == id {
				held = true
				break
			}
		}
		if !held {
			return store.ErrPromotionUsed
		}
	}
	t := r.Transaction
	t.ID = f.id()
	t.Promotions = nil
	for _, id := range r.PromotionIDs {
		t.Promotions = append(t.Promotions, *f.promos[id])
	}
	detach := make(map[uint]bool, len(r.Detach))
	for _, id := range r.Detach {
		detach[id] = true
	}
	kept := u.Promotions[:0]
	for _, p := range u.Promotions {
		if !detach[p.ID] {
			kept = append(kept, p)
		}
	}
	u.Promotions = kept
	u.Points += r.Credit
	cp := *t
	f.txs[t.ID] = &cp
	return nil
}

func (f *fakeStore) GetTransaction(_ context.Context, id uint) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) ListTransactions(_ context.Context, filter store.TransactionFilter) ([]model.Transaction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Transaction
	for _, id := range sortedIDs(f.txs) {
		t := f.txs[id]
		if filter.Utorid != "" && t.Utorid != filter.Utorid {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.Suspicious != nil && t.Suspicious != *filter.Suspicious {
			continue
		}
		out = append(out, *t)
	}
	return out, int64(len(out)), nil
}

var _ Store = (*fakeStore)(nil)
