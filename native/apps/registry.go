package apps

import (
	"errors"
	"fmt"
	"strings"

	nativecommon "modpay/native/common"
)

var (
	errNilState    = errors.New("app registry: state not configured")
	ErrAppNotFound = errors.New("app registry: app not found")
)

// Commission and timing bounds enforced at write time. The engine trusts any
// value the registry has accepted, so the bounds live here and nowhere else.
const (
	MaxModeratorCommissionPct uint32 = 14
	MaxOwnerCommissionPct     uint32 = 44

	minDisputeWindowSecs int64 = 10
	minRefuseWindowSecs  int64 = 10
	minClaimWindowSecs   int64 = 20
	maxWindowSecs        int64 = 10_000_000
)

// App captures the per-tenant configuration scoping orders, commissions and
// timing windows. The identifier is assigned once at registration and never
// changes.
type App struct {
	ID                 uint64
	Owner              [20]byte
	Name               string
	URI                string
	DisputeWindowSecs  int64
	RefuseWindowSecs   int64
	ClaimWindowSecs    int64
	ModCommissionPct   uint32
	OwnerCommissionPct uint32
}

// Clone returns a copy callers can mutate without touching the stored record.
func (a *App) Clone() *App {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// Validate checks the mutable configuration fields against the registry
// bounds. Window bounds are strict on both ends.
func (a *App) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil app", nativecommon.ErrInvalidArgument)
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: app name required", nativecommon.ErrInvalidArgument)
	}
	if a.Owner == ([20]byte{}) {
		return fmt.Errorf("%w: app owner required", nativecommon.ErrInvalidArgument)
	}
	if a.ModCommissionPct > MaxModeratorCommissionPct {
		return fmt.Errorf("%w: moderator commission %d exceeds %d", nativecommon.ErrInvalidArgument, a.ModCommissionPct, MaxModeratorCommissionPct)
	}
	if a.OwnerCommissionPct > MaxOwnerCommissionPct {
		return fmt.Errorf("%w: owner commission %d exceeds %d", nativecommon.ErrInvalidArgument, a.OwnerCommissionPct, MaxOwnerCommissionPct)
	}
	if a.DisputeWindowSecs <= minDisputeWindowSecs || a.DisputeWindowSecs >= maxWindowSecs {
		return fmt.Errorf("%w: dispute window out of range", nativecommon.ErrInvalidArgument)
	}
	if a.RefuseWindowSecs <= minRefuseWindowSecs || a.RefuseWindowSecs >= maxWindowSecs {
		return fmt.Errorf("%w: refuse window out of range", nativecommon.ErrInvalidArgument)
	}
	if a.ClaimWindowSecs <= minClaimWindowSecs || a.ClaimWindowSecs >= maxWindowSecs {
		return fmt.Errorf("%w: claim window out of range", nativecommon.ErrInvalidArgument)
	}
	return nil
}

type registryState interface {
	NextAppID() (uint64, error)
	AppPut(*App) error
	AppGet(id uint64) (*App, bool)
}

// Registry owns the app table. All mutation is routed through it so the
// commission and window invariants hold by the time the settlement engine
// reads a configuration.
type Registry struct {
	state registryState
}

// NewRegistry constructs a registry backed by the provided state.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// Register validates and persists a new app, assigning the next identifier.
func (r *Registry) Register(app *App) (*App, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if app == nil {
		return nil, fmt.Errorf("%w: nil app", nativecommon.ErrInvalidArgument)
	}
	record := app.Clone()
	record.Name = strings.TrimSpace(record.Name)
	record.URI = strings.TrimSpace(record.URI)
	if err := record.Validate(); err != nil {
		return nil, err
	}
	id, err := r.state.NextAppID()
	if err != nil {
		return nil, err
	}
	record.ID = id
	if err := r.state.AppPut(record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Update rewrites the mutable configuration of an existing app. Only the
// current owner may update; the identifier and owner are preserved.
func (r *Registry) Update(caller [20]byte, app *App) (*App, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if app == nil {
		return nil, fmt.Errorf("%w: nil app", nativecommon.ErrInvalidArgument)
	}
	existing, ok := r.state.AppGet(app.ID)
	if !ok {
		return nil, ErrAppNotFound
	}
	if existing.Owner != caller {
		return nil, fmt.Errorf("%w: only the app owner may update", nativecommon.ErrUnauthorized)
	}
	record := app.Clone()
	record.ID = existing.ID
	record.Owner = existing.Owner
	record.Name = strings.TrimSpace(record.Name)
	record.URI = strings.TrimSpace(record.URI)
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := r.state.AppPut(record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// TransferOwnership hands the app to a new owner. Only the current owner may
// transfer.
func (r *Registry) TransferOwnership(caller [20]byte, id uint64, newOwner [20]byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if newOwner == ([20]byte{}) {
		return fmt.Errorf("%w: new owner required", nativecommon.ErrInvalidArgument)
	}
	existing, ok := r.state.AppGet(id)
	if !ok {
		return ErrAppNotFound
	}
	if existing.Owner != caller {
		return fmt.Errorf("%w: only the app owner may transfer", nativecommon.ErrUnauthorized)
	}
	record := existing.Clone()
	record.Owner = newOwner
	return r.state.AppPut(record)
}

// Get returns the stored app configuration, if present.
func (r *Registry) Get(id uint64) (*App, bool) {
	if r == nil || r.state == nil {
		return nil, false
	}
	app, ok := r.state.AppGet(id)
	if !ok {
		return nil, false
	}
	return app.Clone(), true
}
