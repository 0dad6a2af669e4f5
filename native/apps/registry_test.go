package apps

import (
	"testing"

	"github.com/stretchr/testify/require"

	nativecommon "modpay/native/common"
)

type mockRegistryState struct {
	apps   map[uint64]*App
	nextID uint64
}

func newMockRegistryState() *mockRegistryState {
	return &mockRegistryState{apps: make(map[uint64]*App)}
}

func (m *mockRegistryState) NextAppID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *mockRegistryState) AppPut(app *App) error {
	m.apps[app.ID] = app.Clone()
	return nil
}

func (m *mockRegistryState) AppGet(id uint64) (*App, bool) {
	app, ok := m.apps[id]
	if !ok {
		return nil, false
	}
	return app.Clone(), true
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func validApp(owner [20]byte) *App {
	return &App{
		Owner:              owner,
		Name:               "storefront",
		URI:                "https://store.example",
		DisputeWindowSecs:  86_400,
		RefuseWindowSecs:   86_400,
		ClaimWindowSecs:    604_800,
		ModCommissionPct:   2,
		OwnerCommissionPct: 5,
	}
}

func TestAppValidateBounds(t *testing.T) {
	owner := addr(0x01)
	cases := []struct {
		name   string
		mutate func(*App)
		ok     bool
	}{
		{name: "valid", mutate: func(*App) {}, ok: true},
		{name: "mod commission at cap", mutate: func(a *App) { a.ModCommissionPct = MaxModeratorCommissionPct }, ok: true},
		{name: "mod commission above cap", mutate: func(a *App) { a.ModCommissionPct = MaxModeratorCommissionPct + 1 }},
		{name: "owner commission at cap", mutate: func(a *App) { a.OwnerCommissionPct = MaxOwnerCommissionPct }, ok: true},
		{name: "owner commission above cap", mutate: func(a *App) { a.OwnerCommissionPct = MaxOwnerCommissionPct + 1 }},
		{name: "zero commissions", mutate: func(a *App) { a.ModCommissionPct = 0; a.OwnerCommissionPct = 0 }, ok: true},
		{name: "dispute window at lower bound", mutate: func(a *App) { a.DisputeWindowSecs = 10 }},
		{name: "dispute window just above lower bound", mutate: func(a *App) { a.DisputeWindowSecs = 11 }, ok: true},
		{name: "dispute window at upper bound", mutate: func(a *App) { a.DisputeWindowSecs = 10_000_000 }},
		{name: "refuse window at lower bound", mutate: func(a *App) { a.RefuseWindowSecs = 10 }},
		{name: "claim window at lower bound", mutate: func(a *App) { a.ClaimWindowSecs = 20 }},
		{name: "claim window just above lower bound", mutate: func(a *App) { a.ClaimWindowSecs = 21 }, ok: true},
		{name: "missing name", mutate: func(a *App) { a.Name = "   " }},
		{name: "missing owner", mutate: func(a *App) { a.Owner = [20]byte{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := validApp(owner)
			tc.mutate(app)
			err := app.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, nativecommon.ErrInvalidArgument)
		})
	}
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	registry := NewRegistry(newMockRegistryState())
	owner := addr(0x01)

	first, err := registry.Register(validApp(owner))
	require.NoError(t, err)
	second, err := registry.Register(validApp(owner))
	require.NoError(t, err)

	require.Equal(t, uint64(1), first.ID)
	require.Equal(t, uint64(2), second.ID)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	registry := NewRegistry(newMockRegistryState())
	app := validApp(addr(0x01))
	app.ModCommissionPct = 99

	_, err := registry.Register(app)
	require.ErrorIs(t, err, nativecommon.ErrInvalidArgument)
	_, ok := registry.Get(1)
	require.False(t, ok)
}

func TestUpdateOwnerOnly(t *testing.T) {
	registry := NewRegistry(newMockRegistryState())
	owner := addr(0x01)
	registered, err := registry.Register(validApp(owner))
	require.NoError(t, err)

	changed := registered.Clone()
	changed.Name = "renamed"
	changed.OwnerCommissionPct = 10

	_, err = registry.Update(addr(0x09), changed)
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	updated, err := registry.Update(owner, changed)
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, uint32(10), updated.OwnerCommissionPct)
}

func TestUpdatePreservesIdentity(t *testing.T) {
	registry := NewRegistry(newMockRegistryState())
	owner := addr(0x01)
	registered, err := registry.Register(validApp(owner))
	require.NoError(t, err)

	// Attempts to rewrite the id or owner through Update are ignored.
	hijack := registered.Clone()
	hijack.ID = 99
	hijack.Owner = addr(0x09)

	_, err = registry.Update(owner, hijack)
	require.ErrorIs(t, err, ErrAppNotFound)

	hijack.ID = registered.ID
	updated, err := registry.Update(owner, hijack)
	require.NoError(t, err)
	require.Equal(t, registered.ID, updated.ID)
	require.Equal(t, owner, updated.Owner)
}

func TestTransferOwnership(t *testing.T) {
	registry := NewRegistry(newMockRegistryState())
	owner := addr(0x01)
	next := addr(0x02)
	registered, err := registry.Register(validApp(owner))
	require.NoError(t, err)

	err = registry.TransferOwnership(next, registered.ID, next)
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	require.NoError(t, registry.TransferOwnership(owner, registered.ID, next))
	stored, ok := registry.Get(registered.ID)
	require.True(t, ok)
	require.Equal(t, next, stored.Owner)

	// The old owner has lost all rights.
	_, err = registry.Update(owner, stored)
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	err = registry.TransferOwnership(next, registered.ID, [20]byte{})
	require.ErrorIs(t, err, nativecommon.ErrInvalidArgument)
}

func TestGetReturnsClone(t *testing.T) {
	registry := NewRegistry(newMockRegistryState())
	owner := addr(0x01)
	registered, err := registry.Register(validApp(owner))
	require.NoError(t, err)

	fetched, ok := registry.Get(registered.ID)
	require.True(t, ok)
	fetched.Name = "mutated"

	again, ok := registry.Get(registered.ID)
	require.True(t, ok)
	require.Equal(t, "storefront", again.Name)
}
