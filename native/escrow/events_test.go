package escrow

import (
	"math/big"
	"testing"

	"modpay/core/events"
)

func sampleOrder() *Order {
	return &Order{
		ID:               42,
		AppID:            7,
		Asset:            "USDQ",
		Amount:           big.NewInt(1000),
		Buyer:            newTestAddress(0x01),
		Seller:           newTestAddress(0x02),
		PrimaryModerator: 1,
		Status:           StatusPaid,
	}
}

func TestOrderCreatedEventAttributes(t *testing.T) {
	evt := NewOrderCreatedEvent(sampleOrder())
	if evt.Type != EventTypeOrderCreated {
		t.Fatalf("type = %s", evt.Type)
	}
	want := map[string]string{
		"orderId": "42",
		"appId":   "7",
		"asset":   "USDQ",
		"amount":  "1000",
		"status":  "paid",
	}
	for key, expected := range want {
		if got := evt.Attributes[key]; got != expected {
			t.Fatalf("attribute %s = %q, want %q", key, got, expected)
		}
	}
	if evt.Attributes["buyer"] == "" || evt.Attributes["seller"] == "" {
		t.Fatalf("party addresses missing: %+v", evt.Attributes)
	}
}

func TestDisputeOpenedEventAttributes(t *testing.T) {
	dispute := &Dispute{OrderID: 42, RefundAmount: big.NewInt(400), SecondaryModerator: 2, RefuseDeadline: 12345}
	evt := NewDisputeOpenedEvent(sampleOrder(), dispute)
	if evt.Type != EventTypeDisputeOpened {
		t.Fatalf("type = %s", evt.Type)
	}
	if evt.Attributes["refundAmount"] != "400" {
		t.Fatalf("refundAmount = %q", evt.Attributes["refundAmount"])
	}
	if evt.Attributes["secondaryModerator"] != "2" {
		t.Fatalf("secondaryModerator = %q", evt.Attributes["secondaryModerator"])
	}
	if evt.Attributes["refuseDeadline"] != "12345" {
		t.Fatalf("refuseDeadline = %q", evt.Attributes["refuseDeadline"])
	}
}

func TestOrderResolvedEventAttributes(t *testing.T) {
	dist := &Distribution{
		Buyer:      big.NewInt(388),
		Seller:     big.NewInt(582),
		Owner:      big.NewInt(20),
		Moderators: big.NewInt(10),
	}
	evt := NewOrderResolvedEvent(sampleOrder(), OutcomeRefund, dist)
	if evt.Type != EventTypeOrderResolved {
		t.Fatalf("type = %s", evt.Type)
	}
	want := map[string]string{
		"outcome":        "refund",
		"buyerShare":     "388",
		"sellerShare":    "582",
		"ownerShare":     "20",
		"moderatorShare": "10",
	}
	for key, expected := range want {
		if got := evt.Attributes[key]; got != expected {
			t.Fatalf("attribute %s = %q, want %q", key, got, expected)
		}
	}
	// Nil shares format as zero rather than being omitted.
	evt = NewOrderResolvedEvent(sampleOrder(), OutcomeConfirmed, &Distribution{Seller: big.NewInt(1000)})
	if evt.Attributes["buyerShare"] != "0" || evt.Attributes["moderatorShare"] != "0" {
		t.Fatalf("nil shares should render as 0: %+v", evt.Attributes)
	}
}

func TestVoteCastEventAttributes(t *testing.T) {
	evt := NewVoteCastEvent(sampleOrder(), "secondary", newTestAddress(0x05), VoteDisagree)
	if evt.Type != EventTypeVoteCast {
		t.Fatalf("type = %s", evt.Type)
	}
	if evt.Attributes["seat"] != "secondary" {
		t.Fatalf("seat = %q", evt.Attributes["seat"])
	}
	if evt.Attributes["vote"] != "disagree" {
		t.Fatalf("vote = %q", evt.Attributes["vote"])
	}
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	fix := newFixture(t)
	var seen []string
	fix.engine.SetEmitter(emitterFunc(func(eventType string) {
		seen = append(seen, eventType)
	}))

	order := fix.payOrder(t, 1000)
	fix.openDispute(t, order.ID, 400)
	fix.escalateDispute(t, order.ID)
	if err := fix.engine.AgreeRefund(modOwnerA, order.ID); err != nil {
		t.Fatalf("primary vote: %v", err)
	}
	if err := fix.engine.AgreeRefund(modOwnerB, order.ID); err != nil {
		t.Fatalf("secondary vote: %v", err)
	}

	want := []string{
		EventTypeOrderCreated,
		EventTypeDisputeOpened,
		EventTypeRefundRefused,
		EventTypeEscalated,
		EventTypeVoteCast,
		EventTypeVoteCast,
		EventTypeOrderResolved,
	}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

type emitterFunc func(eventType string)

func (f emitterFunc) Emit(evt events.Event) { f(evt.EventType()) }
