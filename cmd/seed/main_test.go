package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/repository"
	"github.com/jmerrifield20/NodeRegistrar/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStores struct {
	users    map[string]string // login → role
	password map[string]string
	proxies  []*model.SmartProxy
	envs     map[string]int64
	groups   map[string]int64
	settings map[string][]string
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		users:    map[string]string{},
		password: map[string]string{},
		envs:     map[string]int64{},
		groups:   map[string]int64{},
		settings: map[string][]string{},
	}
}

func (f *fakeStores) Create(_ context.Context, login, password, role string) (*users.User, error) {
	if _, ok := f.users[login]; ok {
		return nil, users.ErrDuplicateLogin
	}
	f.users[login] = role
	f.password[login] = password
	return &users.User{ID: uuid.New(), Login: login, Role: role}, nil
}

func (f *fakeStores) GetByLogin(_ context.Context, login string) (*users.User, error) {
	role, ok := f.users[login]
	if !ok {
		return nil, users.ErrNotFound
	}
	return &users.User{Login: login, Role: role}, nil
}

func (f *fakeStores) SetPassword(_ context.Context, login, password string) error {
	if _, ok := f.users[login]; !ok {
		return users.ErrNotFound
	}
	f.password[login] = password
	return nil
}

func (f *fakeStores) SetRole(_ context.Context, login, role string) error {
	if _, ok := f.users[login]; !ok {
		return users.ErrNotFound
	}
	f.users[login] = role
	return nil
}

func (f *fakeStores) CreateEnvironment(_ context.Context, name string) (*model.Environment, error) {
	if _, ok := f.envs[name]; !ok {
		f.envs[name] = int64(len(f.envs) + 1)
	}
	return &model.Environment{ID: f.envs[name], Name: name}, nil
}

func (f *fakeStores) CreateHostgroup(_ context.Context, name string) (*model.Hostgroup, error) {
	if _, ok := f.groups[name]; !ok {
		f.groups[name] = int64(len(f.groups) + 1)
	}
	return &model.Hostgroup{ID: f.groups[name], Name: name}, nil
}

func (f *fakeStores) SetStringSlice(_ context.Context, name string, value []string) error {
	f.settings[name] = value
	return nil
}

type fakeProxies struct{ f *fakeStores }

func (p fakeProxies) Create(_ context.Context, sp *model.SmartProxy) error {
	for _, existing := range p.f.proxies {
		if existing.Name == sp.Name {
			return fmt.Errorf("insert proxy: %w", repository.ErrDuplicate)
		}
	}
	sp.ID = int64(len(p.f.proxies) + 1)
	p.f.proxies = append(p.f.proxies, sp)
	return nil
}

func newTestSeeder(f *fakeStores) *seeder {
	return &seeder{users: f, nodes: f, proxies: fakeProxies{f}, settings: f, logger: zap.NewNop()}
}

func TestSeed_bootstrapsEverything(t *testing.T) {
	f := newFakeStores()
	opts := seedOptions{
		adminLogin:    "admin",
		adminPassword: "change-me-now",
		proxyName:     "puppet-ca",
		proxyURL:      "https://puppet:8443",
		environments:  []string{"production", "development"},
		hostgroups:    []string{"web"},
		allowedHosts:  []string{"10.0.0.0/8"},
	}

	require.NoError(t, newTestSeeder(f).run(context.Background(), opts))

	assert.Equal(t, model.RoleAdmin, f.users["admin"])
	require.Len(t, f.proxies, 1)
	assert.True(t, f.proxies[0].HasFeature(model.PuppetCAFeature))
	assert.Len(t, f.envs, 2)
	assert.Len(t, f.groups, 1)
	assert.Equal(t, []string{"10.0.0.0/8"}, f.settings[repository.SettingAllowedHosts])
}

func TestSeed_idempotent(t *testing.T) {
	f := newFakeStores()
	opts := seedOptions{
		adminLogin:    "admin",
		adminPassword: "change-me-now",
		proxyName:     "puppet-ca",
		proxyURL:      "https://puppet:8443",
		environments:  []string{"production"},
	}
	s := newTestSeeder(f)

	require.NoError(t, s.run(context.Background(), opts))
	require.NoError(t, s.run(context.Background(), opts))

	assert.Len(t, f.users, 1)
	assert.Len(t, f.proxies, 1)
	assert.Len(t, f.envs, 1)
}

func TestSeed_skipsUnsetParts(t *testing.T) {
	f := newFakeStores()

	require.NoError(t, newTestSeeder(f).run(context.Background(), seedOptions{adminLogin: "admin"}))

	assert.Empty(t, f.users)
	assert.Empty(t, f.proxies)
	assert.Empty(t, f.settings, "allow-list must be left untouched")
}

func TestSeed_existingAdminKeepsPasswordByDefault(t *testing.T) {
	f := newFakeStores()
	f.users["admin"] = model.RoleAdmin
	f.password["admin"] = "original-secret"

	opts := seedOptions{adminLogin: "admin", adminPassword: "change-me-now"}
	require.NoError(t, newTestSeeder(f).run(context.Background(), opts))

	assert.Equal(t, "original-secret", f.password["admin"])
}

func TestSeed_resetPassword(t *testing.T) {
	f := newFakeStores()
	f.users["admin"] = model.RoleAdmin
	f.password["admin"] = "original-secret"

	opts := seedOptions{adminLogin: "admin", adminPassword: "change-me-now", resetPassword: true}
	require.NoError(t, newTestSeeder(f).run(context.Background(), opts))

	assert.Equal(t, "change-me-now", f.password["admin"])
	assert.Len(t, f.users, 1)
}

func TestSeed_restoresAdminRole(t *testing.T) {
	f := newFakeStores()
	f.users["admin"] = model.RoleViewer

	opts := seedOptions{adminLogin: "admin", adminPassword: "change-me-now"}
	require.NoError(t, newTestSeeder(f).run(context.Background(), opts))

	assert.Equal(t, model.RoleAdmin, f.users["admin"])
}

func TestSeedCmd_resetPasswordFlag(t *testing.T) {
	cmd := newSeedCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--reset-password"}))

	v, err := cmd.Flags().GetBool("reset-password")
	require.NoError(t, err)
	assert.True(t, v)
}
