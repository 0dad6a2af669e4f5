package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"modpay/core/types"
)

const (
	EventTypeOrderCreated    = "escrow.order.created"
	EventTypeDisputeOpened   = "escrow.dispute.opened"
	EventTypeRefundCancelled = "escrow.dispute.cancelled"
	EventTypeRefundRefused   = "escrow.dispute.refused"
	EventTypeEscalated       = "escrow.dispute.escalated"
	EventTypeVoteCast        = "escrow.dispute.vote_cast"
	EventTypeOrderResolved   = "escrow.order.resolved"
	EventTypeClaimed         = "escrow.order.claimed"
)

// NewOrderCreatedEvent returns the canonical payload emitted when a payment
// creates an order in custody.
func NewOrderCreatedEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeOrderCreated, o, nil)
}

// NewDisputeOpenedEvent returns the payload emitted when the buyer asks for a
// refund, creating or updating the dispute record.
func NewDisputeOpenedEvent(o *Order, d *Dispute) *types.Event {
	evt := newOrderEvent(EventTypeDisputeOpened, o, nil)
	if d != nil {
		evt.Attributes["refundAmount"] = formatAmount(d.RefundAmount)
		evt.Attributes["secondaryModerator"] = strconv.FormatUint(d.SecondaryModerator, 10)
		evt.Attributes["refuseDeadline"] = strconv.FormatInt(d.RefuseDeadline, 10)
	}
	return evt
}

// NewRefundCancelledEvent returns the payload emitted when the buyer withdraws
// the refund request and the order returns to the paid state.
func NewRefundCancelledEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeRefundCancelled, o, nil)
}

// NewRefundRefusedEvent returns the payload emitted when the seller refuses a
// requested refund.
func NewRefundRefusedEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeRefundRefused, o, nil)
}

// NewEscalatedEvent returns the payload emitted when a refused refund is
// escalated to the moderator seats.
func NewEscalatedEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeEscalated, o, nil)
}

// NewVoteCastEvent returns the payload emitted when a moderator seat records a
// vote. Tie-break calls do not record a vote and therefore never emit this.
func NewVoteCastEvent(o *Order, seat string, voter [20]byte, vote Vote) *types.Event {
	return newOrderEvent(EventTypeVoteCast, o, map[string]string{
		"seat":  seat,
		"voter": formatAddress(voter),
		"vote":  vote.String(),
	})
}

// NewOrderResolvedEvent returns the terminal payload carrying the resolution
// outcome and the value distributed to each party.
func NewOrderResolvedEvent(o *Order, outcome string, dist *Distribution) *types.Event {
	attrs := map[string]string{"outcome": outcome}
	if dist != nil {
		attrs["buyerShare"] = formatAmount(dist.Buyer)
		attrs["sellerShare"] = formatAmount(dist.Seller)
		attrs["ownerShare"] = formatAmount(dist.Owner)
		attrs["moderatorShare"] = formatAmount(dist.Moderators)
	}
	return newOrderEvent(EventTypeOrderResolved, o, attrs)
}

// NewClaimedEvent returns the payload emitted when a timeout claim settles the
// order without the counterparty acting.
func NewClaimedEvent(o *Order, claimant [20]byte) *types.Event {
	return newOrderEvent(EventTypeClaimed, o, map[string]string{
		"claimant": formatAddress(claimant),
	})
}

func newOrderEvent(eventType string, o *Order, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if o != nil {
		attrs["orderId"] = strconv.FormatUint(o.ID, 10)
		attrs["appId"] = strconv.FormatUint(o.AppID, 10)
		attrs["asset"] = o.Asset
		attrs["amount"] = formatAmount(o.Amount)
		attrs["buyer"] = formatAddress(o.Buyer)
		attrs["seller"] = formatAddress(o.Seller)
		attrs["status"] = o.Status.String()
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAddress(a [20]byte) string {
	return hex.EncodeToString(a[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
