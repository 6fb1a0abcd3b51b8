package usersrv_test

import (
	"context"
	"strings"

	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
)

// memoryUsers is an in-memory user.Repository for tests.
type memoryUsers struct {
	users   map[string]*user.User
	updates int
}

func newMemoryUsers(users ...*user.User) *memoryUsers {
	m := &memoryUsers{users: make(map[string]*user.User)}
	for _, u := range users {
		m.users[u.ID.String()] = u
	}
	return m
}

func (m *memoryUsers) Get(_ context.Context, _ kernel.TenantID, id kernel.UserID) (*user.User, error) {
	u, ok := m.users[id.String()]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUsers) FindByUsername(_ context.Context, _ kernel.TenantID, username, provider string) (*user.User, error) {
	for _, u := range m.users {
		if u.Provider != provider {
			continue
		}
		if strings.EqualFold(u.Email, username) || u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) FindPrimariesByEmail(_ context.Context, _ kernel.TenantID, email string) ([]*user.User, error) {
	var out []*user.User
	for _, u := range m.users {
		if u.LinkedTo == nil && strings.ToLower(u.Email) == email {
			copied := *u
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memoryUsers) Create(_ context.Context, u *user.User) error {
	copied := *u
	m.users[u.ID.String()] = &copied
	return nil
}

func (m *memoryUsers) Update(_ context.Context, u *user.User) error {
	copied := *u
	m.users[u.ID.String()] = &copied
	m.updates++
	return nil
}
