package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"modpay/core/events"
	nativecommon "modpay/native/common"
)

var errNilState = errors.New("ledger: state not configured")

const moduleName = "ledger"

type ledgerState interface {
	BalanceGet(participant [20]byte, asset string) (*big.Int, error)
	BalancePut(participant [20]byte, asset string, amount *big.Int) error
}

// Vault is the external collaborator that moves value out of custody. PushOut
// must fail atomically without partial effect.
type Vault interface {
	PushOut(to [20]byte, asset string, amount *big.Int) error
}

// Ledger maintains the per-(participant, asset) credit balances awaiting
// withdrawal. Credits arrive only from settlement paths; the only debit is an
// explicit withdrawal, which hands the value to the vault collaborator.
//
// Mutations on the same balance key are serialized internally because
// concurrent orders can credit the same participant.
type Ledger struct {
	state   ledgerState
	vault   Vault
	emitter events.Emitter
	pauses  nativecommon.PauseView

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger constructs a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		locks:   make(map[string]*sync.Mutex),
	}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetVault configures the external transfer-out collaborator.
func (l *Ledger) SetVault(v Vault) { l.vault = v }

// SetPauses configures the administrative pause view.
func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(evt)
}

func (l *Ledger) lockKey(participant [20]byte, asset string) func() {
	key := fmt.Sprintf("%x/%s", participant, asset)
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Credit increases the participant's balance for the asset. It is invoked
// exclusively by settlement paths, which attribute the credit to the order and
// app that produced it.
func (l *Ledger) Credit(participant [20]byte, asset string, amount *big.Int, orderID, appID uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", nativecommon.ErrInvalidArgument)
	}
	unlock := l.lockKey(participant, asset)
	defer unlock()
	balance, err := l.state.BalanceGet(participant, asset)
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(cloneBigInt(balance), amt)
	if err := l.state.BalancePut(participant, asset, updated); err != nil {
		return err
	}
	l.emit(BalanceCredited{
		Participant: participant,
		Asset:       asset,
		Amount:      amt,
		OrderID:     orderID,
		AppID:       appID,
	})
	return nil
}

// Withdraw debits the caller's balance and pushes the value out through the
// vault. The balance is decremented before the external transfer so a
// reentrant withdrawal cannot observe a stale balance; if the transfer fails
// the decrement is rolled back and the error surfaced.
func (l *Ledger) Withdraw(caller [20]byte, asset string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.vault == nil {
		return fmt.Errorf("ledger: vault not configured")
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal amount must be positive", nativecommon.ErrInvalidArgument)
	}
	unlock := l.lockKey(caller, asset)
	defer unlock()
	balance, err := l.state.BalanceGet(caller, asset)
	if err != nil {
		return err
	}
	current := cloneBigInt(balance)
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("%w: withdrawal exceeds balance", nativecommon.ErrInvalidArgument)
	}
	remaining := new(big.Int).Sub(current, amt)
	if err := l.state.BalancePut(caller, asset, remaining); err != nil {
		return err
	}
	if err := l.vault.PushOut(caller, asset, amt); err != nil {
		if restoreErr := l.state.BalancePut(caller, asset, current); restoreErr != nil {
			return fmt.Errorf("%w: %v (rollback failed: %v)", nativecommon.ErrTransferFailed, err, restoreErr)
		}
		return fmt.Errorf("%w: %v", nativecommon.ErrTransferFailed, err)
	}
	l.emit(Withdrawn{Participant: caller, Asset: asset, Amount: amt})
	return nil
}

// Balance reports the current credit balance for the participant and asset.
func (l *Ledger) Balance(participant [20]byte, asset string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	balance, err := l.state.BalanceGet(participant, asset)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(balance), nil
}
