package ledger

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"modpay/core/types"
)

const (
	EventTypeBalanceCredited = "ledger.balance_credited"
	EventTypeWithdrawn       = "ledger.withdrawn"
)

// BalanceCredited is emitted whenever a settlement path increases a balance.
type BalanceCredited struct {
	Participant [20]byte
	Asset       string
	Amount      *big.Int
	OrderID     uint64
	AppID       uint64
}

func (BalanceCredited) EventType() string { return EventTypeBalanceCredited }

func (e BalanceCredited) Event() *types.Event {
	return &types.Event{
		Type: EventTypeBalanceCredited,
		Attributes: map[string]string{
			"participant": hex.EncodeToString(e.Participant[:]),
			"asset":       e.Asset,
			"amount":      formatAmount(e.Amount),
			"orderId":     strconv.FormatUint(e.OrderID, 10),
			"appId":       strconv.FormatUint(e.AppID, 10),
		},
	}
}

// Withdrawn is emitted after a successful balance debit and vault transfer.
type Withdrawn struct {
	Participant [20]byte
	Asset       string
	Amount      *big.Int
}

func (Withdrawn) EventType() string { return EventTypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"participant": hex.EncodeToString(e.Participant[:]),
			"asset":       e.Asset,
			"amount":      formatAmount(e.Amount),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
