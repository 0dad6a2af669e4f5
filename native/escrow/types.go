package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// OrderStatus represents the lifecycle states of an escrowed order. The wire
// values are fixed; external indexers persist them as-is.
type OrderStatus uint8

const (
	StatusPaid          OrderStatus = 1
	StatusRefundAsked   OrderStatus = 2
	StatusResolved      OrderStatus = 3
	StatusRefundRefused OrderStatus = 4
	StatusEscalated     OrderStatus = 5
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPaid, StatusRefundAsked, StatusResolved, StatusRefundRefused, StatusEscalated:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case StatusPaid:
		return "paid"
	case StatusRefundAsked:
		return "refund_asked"
	case StatusResolved:
		return "resolved"
	case StatusRefundRefused:
		return "refund_refused"
	case StatusEscalated:
		return "escalated"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Vote is a moderator seat's recorded position on an escalated dispute.
type Vote uint8

const (
	VoteNone Vote = iota
	VoteAgree
	VoteDisagree
)

func (v Vote) String() string {
	switch v {
	case VoteNone:
		return "not_voted"
	case VoteAgree:
		return "agree"
	case VoteDisagree:
		return "disagree"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(v))
	}
}

// Resolution outcomes recorded on the terminal event. "refund" settles toward
// the buyer, "release" toward the seller, "confirmed" is the buyer's direct
// confirmation with no commission.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeRefund    = "refund"
	OutcomeRelease   = "release"
)

// Order is one escrowed payment from buyer to seller under an app. Orders are
// append-only settlement history: they are never deleted, and after resolution
// no further mutation is permitted.
type Order struct {
	ID               uint64
	AppID            uint64
	Asset            string
	Amount           *big.Int
	Buyer            [20]byte
	Seller           [20]byte
	PrimaryModerator uint64
	CreatedAt        int64
	ClaimDeadline    int64
	Status           OrderStatus
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Dispute is the refund negotiation attached to an order once the buyer has
// asked for a refund. Repeated refund requests overwrite the refund amount and
// secondary seat in place while the lifecycle permits.
type Dispute struct {
	OrderID            uint64
	RefundAmount       *big.Int
	SecondaryModerator uint64
	RefuseDeadline     int64
}

// Clone returns a deep copy of the dispute record.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	if d.RefundAmount != nil {
		clone.RefundAmount = new(big.Int).Set(d.RefundAmount)
	} else {
		clone.RefundAmount = big.NewInt(0)
	}
	return &clone
}

// VoteTally records the two seats' votes. Once the order resolves the tally is
// frozen history and is never reset.
type VoteTally struct {
	OrderID   uint64
	Primary   Vote
	Secondary Vote
}

// Clone returns a copy of the tally.
func (t *VoteTally) Clone() *VoteTally {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// NormalizeAsset canonicalises an asset symbol to uppercase and validates its
// shape: 1 to 12 characters drawn from A-Z and 0-9.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if len(trimmed) == 0 || len(trimmed) > 12 {
		return "", fmt.Errorf("invalid asset symbol: %q", symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("invalid asset symbol: %q", symbol)
		}
	}
	return trimmed, nil
}

// SanitizeOrder validates and normalises an order record, returning a cloned
// instance with canonical asset casing and a non-nil amount. The original is
// not mutated.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("nil order")
	}
	clone := o.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("order amount must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid order status: %d", clone.Status)
	}
	return clone, nil
}
