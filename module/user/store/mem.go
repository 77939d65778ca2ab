package store

import (
	"context"
	"sync"

	usermodel "MarketChat/module/user/model"
	"MarketChat/tools/errs"
)

type MemDirectory struct {
	mu    sync.RWMutex
	users map[string]*usermodel.User
}

func NewMemDirectory(users ...*usermodel.User) *MemDirectory {
	d := &MemDirectory{users: make(map[string]*usermodel.User)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

func (d *MemDirectory) Put(u *usermodel.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *u
	d.users[u.UserID] = &cp
}

func (d *MemDirectory) Get(_ context.Context, userID string) (*usermodel.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok || u.Status == usermodel.UserClosed {
		return nil, errs.ErrNotFound.WrapMsg("user not found")
	}
	cp := *u
	return &cp, nil
}

func (d *MemDirectory) Profiles(_ context.Context, userIDs []string) (map[string]usermodel.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]usermodel.Profile, len(userIDs))
	for _, id := range dedup(userIDs) {
		if u, ok := d.users[id]; ok {
			out[id] = u.Profile()
		}
	}
	return out, nil
}
