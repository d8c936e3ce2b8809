package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"fleet-sync/internal/models"
)

// NewMemoryRepository returns a repository held in process memory. Ids are
// sequential per table, starting at 1.
func NewMemoryRepository() *Repository {
	return &Repository{
		Drivers:  newMemoryTable(driverID, nil),
		Vehicles: newMemoryTable(vehicleID, registration),
		Reports:  newMemoryTable(reportID, nil),
		Users:    &memoryUsers{byID: make(map[string]models.User)},
	}
}

type memoryTable[T any] struct {
	mu     sync.RWMutex
	seq    int
	items  []T
	id     func(*T) *string
	unique func(T) string
}

func newMemoryTable[T any](id func(*T) *string, unique func(T) string) *memoryTable[T] {
	return &memoryTable[T]{id: id, unique: unique}
}

func (t *memoryTable[T]) List(ctx context.Context) ([]T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, len(t.items))
	copy(out, t.items)
	return out, nil
}

func (t *memoryTable[T]) Get(ctx context.Context, id string) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i := t.indexOf(id); i >= 0 {
		return t.items[i], nil
	}
	var zero T
	return zero, ErrNotFound
}

func (t *memoryTable[T]) Create(ctx context.Context, record T) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUnique(record, ""); err != nil {
		var zero T
		return zero, err
	}
	t.seq++
	*t.id(&record) = strconv.Itoa(t.seq)
	t.items = append(t.items, record)
	return record, nil
}

func (t *memoryTable[T]) Update(ctx context.Context, id string, record T) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(id)
	if i < 0 {
		var zero T
		return zero, ErrNotFound
	}
	if err := t.checkUnique(record, id); err != nil {
		var zero T
		return zero, err
	}
	*t.id(&record) = id
	t.items[i] = record
	return record, nil
}

func (t *memoryTable[T]) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	t.items = append(t.items[:i], t.items[i+1:]...)
	return nil
}

func (t *memoryTable[T]) indexOf(id string) int {
	for i := range t.items {
		if *t.id(&t.items[i]) == id {
			return i
		}
	}
	return -1
}

// checkUnique must be called with the write lock held. self is the id of the
// record being replaced, if any.
func (t *memoryTable[T]) checkUnique(record T, self string) error {
	if t.unique == nil {
		return nil
	}
	key := t.unique(record)
	for i := range t.items {
		if *t.id(&t.items[i]) != self && strings.EqualFold(t.unique(t.items[i]), key) {
			return fmt.Errorf("%w: %s", ErrDuplicate, key)
		}
	}
	return nil
}

type memoryUsers struct {
	mu   sync.RWMutex
	seq  int
	byID map[string]models.User
}

func (u *memoryUsers) ByEmail(ctx context.Context, email string) (models.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, user := range u.byID {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (u *memoryUsers) ByID(ctx context.Context, id string) (models.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.byID[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (u *memoryUsers) Create(ctx context.Context, user models.User) (models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.byID {
		if strings.EqualFold(existing.Email, user.Email) {
			return models.User{}, fmt.Errorf("%w: %s", ErrDuplicate, user.Email)
		}
	}
	u.seq++
	user.ID = strconv.Itoa(u.seq)
	u.byID[user.ID] = user
	return user, nil
}
