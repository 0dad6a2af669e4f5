package escrow

import (
	"errors"
	"math/big"
	"reflect"
	"testing"

	nativecommon "modpay/native/common"
)

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name      string
		roles     voteRoles
		primary   Vote
		secondary Vote
		v         Vote
		want      voteDecision
	}{
		{
			name:  "both seats resolve immediately",
			roles: voteRoles{bothSeats: true, primary: true, secondary: true},
			v:     VoteAgree,
			want:  voteDecision{recordPrimary: true, recordSecondary: true, resolve: true},
		},
		{
			name:      "owner breaks a standing tie",
			roles:     voteRoles{appOwner: true},
			primary:   VoteAgree,
			secondary: VoteDisagree,
			v:         VoteDisagree,
			want:      voteDecision{resolve: true},
		},
		{
			name:    "owner cannot vote before the tie exists",
			roles:   voteRoles{appOwner: true},
			primary: VoteAgree,
			v:       VoteAgree,
			want:    voteDecision{unauthorized: true},
		},
		{
			name:      "owner cannot override a settled pair",
			roles:     voteRoles{appOwner: true},
			primary:   VoteAgree,
			secondary: VoteAgree,
			v:         VoteDisagree,
			want:      voteDecision{unauthorized: true},
		},
		{
			name:  "primary first vote pends",
			roles: voteRoles{primary: true},
			v:     VoteAgree,
			want:  voteDecision{recordPrimary: true},
		},
		{
			name:      "primary matching second vote resolves",
			roles:     voteRoles{primary: true},
			secondary: VoteDisagree,
			v:         VoteDisagree,
			want:      voteDecision{recordPrimary: true, resolve: true},
		},
		{
			name:    "secondary matching second vote resolves",
			roles:   voteRoles{secondary: true},
			primary: VoteAgree,
			v:       VoteAgree,
			want:    voteDecision{recordSecondary: true, resolve: true},
		},
		{
			name:    "primary cannot vote twice",
			roles:   voteRoles{primary: true},
			primary: VoteAgree,
			v:       VoteDisagree,
			want:    voteDecision{unauthorized: true},
		},
		{
			name:  "stranger has no vote",
			roles: voteRoles{},
			v:     VoteAgree,
			want:  voteDecision{unauthorized: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decide(tc.roles, tc.primary, tc.secondary, tc.v)
			if got != tc.want {
				t.Fatalf("decide() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func escalatedOrder(t *testing.T, fix *fixture, amount, refund int64) *Order {
	t.Helper()
	order := fix.payOrder(t, amount)
	fix.openDispute(t, order.ID, refund)
	fix.escalateDispute(t, order.ID)
	return order
}

func TestSingleOwnerBothSeatsResolves(t *testing.T) {
	fix := newFixture(t)
	fix.mods.owners[2] = modOwnerA
	order := escalatedOrder(t, fix, 1000, 400)

	if err := fix.engine.AgreeRefund(modOwnerA, order.ID); err != nil {
		t.Fatalf("vote: %v", err)
	}
	// One seat participates: one 1% commission, 98% shared net.
	requireBalance(t, fix.ledger, buyerAddr, 392)
	requireBalance(t, fix.ledger, sellerAddr, 588)
	requireBalance(t, fix.ledger, modOwnerA, 10)
	requireBalance(t, fix.ledger, appOwnerAddr, 10)
	if got := fix.ledger.totalCredited(); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("credits sum to %s, want 1000", got)
	}
	want := []outcomeRecord{{moderatorID: 1, won: true}}
	if !reflect.DeepEqual(fix.mods.outcomes, want) {
		t.Fatalf("outcomes = %+v, want %+v", fix.mods.outcomes, want)
	}
	tally, ok := fix.engine.Tally(order.ID)
	if !ok || tally.Primary != VoteAgree || tally.Secondary != VoteAgree {
		t.Fatalf("tally = %+v", tally)
	}
}

func TestMatchingSeatVotesResolve(t *testing.T) {
	fix := newFixture(t)
	order := escalatedOrder(t, fix, 1000, 400)

	if err := fix.engine.DisagreeRefund(modOwnerB, order.ID); err != nil {
		t.Fatalf("secondary vote: %v", err)
	}
	if got := fix.status(t, order.ID); got != StatusEscalated {
		t.Fatalf("one vote must not resolve, status = %s", got)
	}
	if err := fix.engine.DisagreeRefund(modOwnerA, order.ID); err != nil {
		t.Fatalf("primary vote: %v", err)
	}
	// Release outcome: seller takes 97%, each seat a 1% win, owner 1%.
	requireBalance(t, fix.ledger, sellerAddr, 970)
	requireBalance(t, fix.ledger, buyerAddr, 0)
	requireBalance(t, fix.ledger, modOwnerA, 10)
	requireBalance(t, fix.ledger, modOwnerB, 10)
	requireBalance(t, fix.ledger, appOwnerAddr, 10)
	want := []outcomeRecord{
		{moderatorID: 1, won: true},
		{moderatorID: 2, won: true},
	}
	if !reflect.DeepEqual(fix.mods.outcomes, want) {
		t.Fatalf("outcomes = %+v, want %+v", fix.mods.outcomes, want)
	}
}

func TestOwnerTieBreak(t *testing.T) {
	fix := newFixture(t)
	order := escalatedOrder(t, fix, 1000, 400)

	if err := fix.engine.AgreeRefund(modOwnerA, order.ID); err != nil {
		t.Fatalf("primary vote: %v", err)
	}
	if err := fix.engine.DisagreeRefund(modOwnerB, order.ID); err != nil {
		t.Fatalf("secondary vote: %v", err)
	}
	if got := fix.status(t, order.ID); got != StatusEscalated {
		t.Fatalf("split votes must not resolve, status = %s", got)
	}
	if err := fix.engine.AgreeRefund(strangerAddr, order.ID); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("stranger tie-break: got %v", err)
	}
	if err := fix.engine.AgreeRefund(appOwnerAddr, order.ID); err != nil {
		t.Fatalf("owner tie-break: %v", err)
	}
	// Refund outcome with two seats: the agreeing seat wins its 1%, the
	// disagreeing seat's 1% folds into the owner total.
	requireBalance(t, fix.ledger, buyerAddr, 388)
	requireBalance(t, fix.ledger, sellerAddr, 582)
	requireBalance(t, fix.ledger, modOwnerA, 10)
	requireBalance(t, fix.ledger, modOwnerB, 0)
	requireBalance(t, fix.ledger, appOwnerAddr, 20)
	if got := fix.ledger.totalCredited(); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("credits sum to %s, want 1000", got)
	}
	// The tie-break leaves the seat votes exactly as cast.
	tally, ok := fix.engine.Tally(order.ID)
	if !ok || tally.Primary != VoteAgree || tally.Secondary != VoteDisagree {
		t.Fatalf("tally = %+v", tally)
	}
	want := []outcomeRecord{
		{moderatorID: 1, won: true},
		{moderatorID: 2, won: false},
	}
	if !reflect.DeepEqual(fix.mods.outcomes, want) {
		t.Fatalf("outcomes = %+v, want %+v", fix.mods.outcomes, want)
	}
}

func TestSeatVoterCannotVoteTwice(t *testing.T) {
	fix := newFixture(t)
	order := escalatedOrder(t, fix, 1000, 400)

	if err := fix.engine.AgreeRefund(modOwnerA, order.ID); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if err := fix.engine.DisagreeRefund(modOwnerA, order.ID); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("revote: got %v", err)
	}
	if err := fix.engine.AgreeRefund(modOwnerA, order.ID); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("repeat vote: got %v", err)
	}
}

func TestVoteRequiresEscalation(t *testing.T) {
	fix := newFixture(t)
	order := fix.payOrder(t, 1000)
	fix.openDispute(t, order.ID, 400)

	if err := fix.engine.AgreeRefund(modOwnerA, order.ID); !errors.Is(err, nativecommon.ErrInvalidStateTransition) {
		t.Fatalf("vote before escalation: got %v", err)
	}
}

func TestSeatOwnershipResolvedAtVoteTime(t *testing.T) {
	fix := newFixture(t)
	order := escalatedOrder(t, fix, 1000, 400)

	// The primary seat changes hands after seating. The old owner loses the
	// vote, the new owner gains it.
	fix.mods.owners[1] = strangerAddr
	if err := fix.engine.AgreeRefund(modOwnerA, order.ID); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("stale owner vote: got %v", err)
	}
	if err := fix.engine.AgreeRefund(strangerAddr, order.ID); err != nil {
		t.Fatalf("new owner vote: %v", err)
	}
	if err := fix.engine.AgreeRefund(modOwnerB, order.ID); err != nil {
		t.Fatalf("secondary vote: %v", err)
	}
	// Commission follows the owner at vote time.
	requireBalance(t, fix.ledger, strangerAddr, 10)
	requireBalance(t, fix.ledger, modOwnerB, 10)
}

func TestVoteSettlementDeterministic(t *testing.T) {
	run := func() []creditRecord {
		fix := newFixture(t)
		order := escalatedOrder(t, fix, 999_983, 123_457)
		if err := fix.engine.AgreeRefund(modOwnerA, order.ID); err != nil {
			t.Fatalf("primary vote: %v", err)
		}
		if err := fix.engine.AgreeRefund(modOwnerB, order.ID); err != nil {
			t.Fatalf("secondary vote: %v", err)
		}
		return fix.ledger.credits
	}
	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("settlement not reproducible:\n%+v\n%+v", first, second)
	}
}

func TestVoteSettlementNeverExceedsAmount(t *testing.T) {
	// Odd amounts exercise the truncation: credits may undershoot by the
	// truncation loss but must never exceed the escrowed amount.
	cases := []struct {
		amount int64
		refund int64
	}{
		{1003, 401},
		{999, 1},
		{7, 3},
		{1_000_001, 999_999},
	}
	for _, tc := range cases {
		fix := newFixture(t)
		order := escalatedOrder(t, fix, tc.amount, tc.refund)
		if err := fix.engine.AgreeRefund(modOwnerA, order.ID); err != nil {
			t.Fatalf("primary vote: %v", err)
		}
		if err := fix.engine.AgreeRefund(modOwnerB, order.ID); err != nil {
			t.Fatalf("secondary vote: %v", err)
		}
		total := fix.ledger.totalCredited()
		if total.Cmp(big.NewInt(tc.amount)) > 0 {
			t.Fatalf("amount=%d refund=%d: credited %s exceeds escrow", tc.amount, tc.refund, total)
		}
		// Each truncating division loses under one unit; the moderator share
		// feeds three credits, so the total loss stays under five units.
		floor := big.NewInt(tc.amount - 5)
		if total.Cmp(floor) < 0 {
			t.Fatalf("amount=%d refund=%d: credited %s below truncation floor", tc.amount, tc.refund, total)
		}
	}
}
