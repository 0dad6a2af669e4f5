package escrow

import (
	"fmt"
	"math/big"

	"modpay/native/apps"
	nativecommon "modpay/native/common"
)

// voteRoles captures the caller's capabilities at the moment of a vote call.
// Seat ownership is resolved fresh each call, so the same moderator identity
// can have different effective voters across calls.
type voteRoles struct {
	bothSeats bool // caller currently owns both moderator seats
	appOwner  bool
	primary   bool
	secondary bool
}

// voteDecision is the outcome of one decision-table row: which seat votes to
// record, whether the tally resolves now, or whether the caller had no say.
type voteDecision struct {
	recordPrimary   bool
	recordSecondary bool
	resolve         bool
	unauthorized    bool
}

// decide evaluates a single vote call against the current tally. Rows are
// tried in order and the first match wins:
//
//  1. A caller owning both seats votes for both and resolves immediately.
//  2. The app owner breaks a tie once both seats hold opposite votes; the
//     stored seat votes are left untouched.
//  3. The primary voter records a first vote; the tally resolves only if the
//     secondary seat already voted the same value.
//  4. Symmetric for the secondary voter.
//  5. Every other caller/tally combination is unauthorized, including a seat
//     voter attempting to vote twice.
func decide(roles voteRoles, primaryPrior, secondaryPrior Vote, v Vote) voteDecision {
	switch {
	case roles.bothSeats:
		return voteDecision{recordPrimary: true, recordSecondary: true, resolve: true}
	case roles.appOwner && primaryPrior != VoteNone && secondaryPrior != VoteNone && primaryPrior != secondaryPrior:
		return voteDecision{resolve: true}
	case roles.primary && primaryPrior == VoteNone:
		return voteDecision{recordPrimary: true, resolve: secondaryPrior == v}
	case roles.secondary && secondaryPrior == VoteNone:
		return voteDecision{recordSecondary: true, resolve: primaryPrior == v}
	default:
		return voteDecision{unauthorized: true}
	}
}

// AgreeRefund consents to the requested refund. Called by the seller it
// settles immediately from any dispute state, bypassing the moderator seats;
// called by anyone else it is routed into the vote tally of an escalated
// dispute.
func (e *Engine) AgreeRefund(caller [20]byte, orderID uint64) error {
	return e.vote(caller, orderID, VoteAgree)
}

// DisagreeRefund votes against the requested refund on an escalated dispute.
func (e *Engine) DisagreeRefund(caller [20]byte, orderID uint64) error {
	return e.vote(caller, orderID, VoteDisagree)
}

func (e *Engine) vote(caller [20]byte, orderID uint64, v Vote) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock := e.lockOrder(orderID)
	defer unlock()
	order, err := e.loadOrder(orderID)
	if err != nil {
		return err
	}

	// Seller consent ends the dispute without moderator accounting: no vote
	// is recorded and no reputation changes.
	if v == VoteAgree && caller == order.Seller {
		switch order.Status {
		case StatusRefundAsked, StatusRefundRefused, StatusEscalated:
			app, appErr := e.loadApp(order.AppID)
			if appErr != nil {
				return appErr
			}
			dispute, ok := e.state.DisputeGet(order.ID)
			if !ok {
				return fmt.Errorf("escrow engine: dispute missing for order %d", order.ID)
			}
			return e.finalize(order, app, OutcomeRefund, refundDistribution(order, app, dispute))
		}
	}

	if order.Status != StatusEscalated {
		return fmt.Errorf("%w: cannot vote in status %s", nativecommon.ErrInvalidStateTransition, order.Status)
	}
	if e.moderators == nil {
		return errNilModerators
	}
	app, err := e.loadApp(order.AppID)
	if err != nil {
		return err
	}
	dispute, ok := e.state.DisputeGet(order.ID)
	if !ok {
		return fmt.Errorf("escrow engine: dispute missing for order %d", order.ID)
	}
	tally, ok := e.state.TallyGet(order.ID)
	if !ok {
		tally = &VoteTally{OrderID: order.ID}
	}
	primaryOwner, err := e.moderators.OwnerOf(order.PrimaryModerator)
	if err != nil {
		return err
	}
	secondaryOwner, err := e.moderators.OwnerOf(dispute.SecondaryModerator)
	if err != nil {
		return err
	}
	roles := voteRoles{
		bothSeats: primaryOwner == secondaryOwner && caller == primaryOwner,
		appOwner:  caller == app.Owner,
		primary:   caller == primaryOwner,
		secondary: caller == secondaryOwner,
	}
	decision := decide(roles, tally.Primary, tally.Secondary, v)
	if decision.unauthorized {
		return fmt.Errorf("%w: caller has no vote on order %d", nativecommon.ErrUnauthorized, order.ID)
	}
	if decision.recordPrimary || decision.recordSecondary {
		if decision.recordPrimary {
			tally.Primary = v
		}
		if decision.recordSecondary {
			tally.Secondary = v
		}
		if err := e.state.TallyPut(tally); err != nil {
			return err
		}
		if decision.recordPrimary {
			e.emit(NewVoteCastEvent(order, "primary", caller, v))
		}
		if decision.recordSecondary {
			e.emit(NewVoteCastEvent(order, "secondary", caller, v))
		}
	}
	if !decision.resolve {
		return nil
	}
	return e.resolveByVote(order, app, dispute, tally, v == VoteAgree, primaryOwner, secondaryOwner)
}

type seatState struct {
	moderatorID uint64
	owner       [20]byte
	vote        Vote
}

// resolveByVote performs the full vote-driven settlement. Seats whose recorded
// vote matches the outcome are rewarded with the moderator commission and a
// reputation win; the app owner absorbs the commission of every losing seat on
// top of the owner rate. Buyer and seller split the remainder net of the total
// commission, using truncating division throughout.
func (e *Engine) resolveByVote(order *Order, app *apps.App, dispute *Dispute, tally *VoteTally, refund bool, primaryOwner, secondaryOwner [20]byte) error {
	seats := []seatState{
		{order.PrimaryModerator, primaryOwner, tally.Primary},
		{dispute.SecondaryModerator, secondaryOwner, tally.Secondary},
	}
	// A single owner holding both seats with one position participates as one
	// seat: one commission, one reputation update.
	if primaryOwner == secondaryOwner && tally.Primary == tally.Secondary {
		seats = seats[:1]
	}

	modShare := pctShare(order.Amount, app.ModCommissionPct)
	ownerTotal := pctShare(order.Amount, app.OwnerCommissionPct)
	modTotal := big.NewInt(0)
	for _, seat := range seats {
		won := (seat.vote == VoteAgree) == refund
		if won {
			if err := e.creditShare(seat.owner, order, modShare); err != nil {
				return err
			}
			modTotal = new(big.Int).Add(modTotal, modShare)
		} else {
			ownerTotal = new(big.Int).Add(ownerTotal, modShare)
		}
		if err := e.moderators.RecordOutcome(seat.moderatorID, won); err != nil {
			return err
		}
	}

	netPct := 100 - (app.OwnerCommissionPct + uint32(len(seats))*app.ModCommissionPct)
	dist := &Distribution{Owner: ownerTotal, Moderators: modTotal}
	outcome := OutcomeRelease
	if refund {
		outcome = OutcomeRefund
		dist.Buyer = pctShare(dispute.RefundAmount, netPct)
		remainder := new(big.Int).Sub(order.Amount, dispute.RefundAmount)
		if remainder.Sign() > 0 {
			dist.Seller = pctShare(remainder, netPct)
		}
	} else {
		dist.Seller = pctShare(order.Amount, netPct)
	}
	return e.finalize(order, app, outcome, dist)
}
