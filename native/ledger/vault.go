package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	nativecommon "modpay/native/common"
)

var errNilFloatState = errors.New("custody vault: state not configured")

type floatState interface {
	FloatGet(asset string) (*big.Int, error)
	FloatPut(asset string, amount *big.Int) error
}

// CustodyVault tracks the per-asset float held in custody. It backs both
// directions of the transfer contract: PullIn when a payment enters custody
// and PushOut when a withdrawal leaves it. The float can never go negative;
// every unit pushed out must have been pulled in by a payment first, so the
// sum of ledger balances plus the float equals total inbound minus total
// withdrawn.
type CustodyVault struct {
	state floatState
	mu    sync.Mutex
}

// NewCustodyVault constructs a vault over the supplied float state.
func NewCustodyVault(state floatState) *CustodyVault {
	return &CustodyVault{state: state}
}

// PullIn records value entering custody from the payer.
func (v *CustodyVault) PullIn(from [20]byte, asset string, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilFloatState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: inbound amount must be positive", nativecommon.ErrInvalidArgument)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	float, err := v.state.FloatGet(asset)
	if err != nil {
		return err
	}
	return v.state.FloatPut(asset, new(big.Int).Add(cloneBigInt(float), amt))
}

// PushOut records value leaving custody toward the recipient.
func (v *CustodyVault) PushOut(to [20]byte, asset string, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilFloatState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: outbound amount must be positive", nativecommon.ErrInvalidArgument)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	float, err := v.state.FloatGet(asset)
	if err != nil {
		return err
	}
	current := cloneBigInt(float)
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("%w: custody float underflow for %s", nativecommon.ErrTransferFailed, asset)
	}
	return v.state.FloatPut(asset, new(big.Int).Sub(current, amt))
}

// Float reports the custody float currently held for the asset.
func (v *CustodyVault) Float(asset string) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilFloatState
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	float, err := v.state.FloatGet(asset)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(float), nil
}
