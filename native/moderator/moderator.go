package moderator

import (
	"errors"
	"fmt"

	nativecommon "modpay/native/common"
)

var (
	errNilState          = errors.New("moderator ledger: state not configured")
	ErrModeratorNotFound = errors.New("moderator ledger: moderator not found")
)

// Moderator is a transferable identity empaneled to vote on escalated
// disputes. Reputation counters accumulate across every resolved round the
// identity participated in; the success rate uses truncating integer division
// and is recomputed after each outcome.
type Moderator struct {
	ID          uint64
	Owner       [20]byte
	TotalRounds uint64
	Wins        uint64
	SuccessRate uint32
}

// Clone returns a copy callers can mutate without touching the stored record.
func (m *Moderator) Clone() *Moderator {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

type ledgerState interface {
	NextModeratorID() (uint64, error)
	ModeratorPut(*Moderator) error
	ModeratorGet(id uint64) (*Moderator, bool)
	ModeratorCount() uint64
}

// Ledger issues moderator identities and tracks their ownership and
// reputation. It satisfies the registry contract the escrow engine consumes:
// MaxModeratorID, OwnerOf and RecordOutcome.
type Ledger struct {
	state ledgerState
}

// NewLedger constructs a moderator ledger backed by the provided state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// Mint issues a new moderator identity owned by the supplied participant.
// Identifiers are sequential starting at 1.
func (l *Ledger) Mint(owner [20]byte) (*Moderator, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if owner == ([20]byte{}) {
		return nil, fmt.Errorf("%w: moderator owner required", nativecommon.ErrInvalidArgument)
	}
	id, err := l.state.NextModeratorID()
	if err != nil {
		return nil, err
	}
	mod := &Moderator{ID: id, Owner: owner}
	if err := l.state.ModeratorPut(mod); err != nil {
		return nil, err
	}
	return mod.Clone(), nil
}

// Transfer reassigns a moderator identity. Only the current owner may
// transfer; accrued reputation travels with the identity.
func (l *Ledger) Transfer(caller [20]byte, id uint64, newOwner [20]byte) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if newOwner == ([20]byte{}) {
		return fmt.Errorf("%w: new owner required", nativecommon.ErrInvalidArgument)
	}
	mod, ok := l.state.ModeratorGet(id)
	if !ok {
		return ErrModeratorNotFound
	}
	if mod.Owner != caller {
		return fmt.Errorf("%w: only the moderator owner may transfer", nativecommon.ErrUnauthorized)
	}
	record := mod.Clone()
	record.Owner = newOwner
	return l.state.ModeratorPut(record)
}

// MaxModeratorID reports the highest identifier issued so far.
func (l *Ledger) MaxModeratorID() uint64 {
	if l == nil || l.state == nil {
		return 0
	}
	return l.state.ModeratorCount()
}

// OwnerOf resolves the current owner of the moderator identity. Ownership is
// looked up fresh on every call; the escrow engine must not cache it.
func (l *Ledger) OwnerOf(id uint64) ([20]byte, error) {
	if l == nil || l.state == nil {
		return [20]byte{}, errNilState
	}
	mod, ok := l.state.ModeratorGet(id)
	if !ok {
		return [20]byte{}, ErrModeratorNotFound
	}
	return mod.Owner, nil
}

// RecordOutcome increments the reputation counters for a resolved dispute
// round and recomputes the truncated success rate.
func (l *Ledger) RecordOutcome(id uint64, won bool) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	mod, ok := l.state.ModeratorGet(id)
	if !ok {
		return ErrModeratorNotFound
	}
	record := mod.Clone()
	record.TotalRounds++
	if won {
		record.Wins++
	}
	record.SuccessRate = uint32(record.Wins * 100 / record.TotalRounds)
	return l.state.ModeratorPut(record)
}

// Get returns the stored moderator record, if present.
func (l *Ledger) Get(id uint64) (*Moderator, bool) {
	if l == nil || l.state == nil {
		return nil, false
	}
	mod, ok := l.state.ModeratorGet(id)
	if !ok {
		return nil, false
	}
	return mod.Clone(), true
}
