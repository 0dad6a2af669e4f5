package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"modpay/core/events"
	"modpay/core/types"
	"modpay/native/apps"
	nativecommon "modpay/native/common"
)

var (
	errNilState      = errors.New("escrow engine: state not configured")
	errNilApps       = errors.New("escrow engine: app directory not configured")
	errNilModerators = errors.New("escrow engine: moderator registry not configured")
	errNilLedger     = errors.New("escrow engine: ledger not configured")
	errNilVault      = errors.New("escrow engine: vault not configured")

	ErrOrderNotFound = errors.New("escrow engine: order not found")
)

const moduleName = "escrow"

type engineState interface {
	NextOrderID() (uint64, error)
	OrderPut(*Order) error
	OrderGet(id uint64) (*Order, bool)
	OrderRefPut(ref [32]byte, id uint64) error
	OrderRefGet(ref [32]byte) (uint64, bool)
	DisputePut(*Dispute) error
	DisputeGet(orderID uint64) (*Dispute, bool)
	TallyPut(*VoteTally) error
	TallyGet(orderID uint64) (*VoteTally, bool)
}

// AppDirectory resolves tenant configuration. Values returned here have been
// bounds-checked by the app registry at write time.
type AppDirectory interface {
	Get(id uint64) (*apps.App, bool)
}

// ModeratorRegistry is the external collaborator issuing moderator identities.
// Ownership is resolved at call time and must not be cached: a seat's
// effective voter can change between seating and voting.
type ModeratorRegistry interface {
	MaxModeratorID() uint64
	OwnerOf(id uint64) ([20]byte, error)
	RecordOutcome(id uint64, won bool) error
}

// Vault is the external collaborator that moves value into custody. PullIn
// must fail atomically without partial effect.
type Vault interface {
	PullIn(from [20]byte, asset string, amount *big.Int) error
}

// LedgerSink receives settlement credits. Every payout the engine computes is
// a ledger credit; withdrawal is a separate debit step outside the engine.
type LedgerSink interface {
	Credit(participant [20]byte, asset string, amount *big.Int, orderID, appID uint64) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine owns the order lifecycle state machine and the settlement paths that
// credit the ledger. Operations on the same order are serialized internally;
// operations on distinct orders proceed in parallel.
type Engine struct {
	state      engineState
	apps       AppDirectory
	moderators ModeratorRegistry
	ledger     LedgerSink
	vault      Vault
	emitter    events.Emitter
	pauses     nativecommon.PauseView
	nowFn      func() int64

	mu         sync.Mutex
	orderLocks map[uint64]*sync.Mutex
	createMu   sync.Mutex
}

// NewEngine creates an escrow engine with a no-op emitter. Callers wire the
// collaborators via the Set methods before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
		orderLocks: make(map[uint64]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetApps configures the app directory collaborator.
func (e *Engine) SetApps(dir AppDirectory) { e.apps = dir }

// SetModerators configures the moderator registry collaborator.
func (e *Engine) SetModerators(reg ModeratorRegistry) { e.moderators = reg }

// SetLedger configures the settlement credit sink.
func (e *Engine) SetLedger(sink LedgerSink) { e.ledger = sink }

// SetVault configures the inbound transfer collaborator.
func (e *Engine) SetVault(v Vault) { e.vault = v }

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// ready reports whether the engine can mutate state: the backend must be
// configured and the module not administratively paused.
func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// lockOrder serializes state transitions per order id. Locks are retained for
// the engine lifetime; orders are append-only so the map only grows with the
// order count.
func (e *Engine) lockOrder(id uint64) func() {
	e.mu.Lock()
	lock, ok := e.orderLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.orderLocks[id] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (e *Engine) loadOrder(id uint64) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	order, ok := e.state.OrderGet(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (e *Engine) storeOrder(order *Order) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.OrderPut(order)
}

func (e *Engine) loadApp(id uint64) (*apps.App, error) {
	if e == nil || e.apps == nil {
		return nil, errNilApps
	}
	app, ok := e.apps.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: unknown app %d", nativecommon.ErrInvalidArgument, id)
	}
	return app, nil
}

func (e *Engine) validModeratorID(id uint64) bool {
	if e == nil || e.moderators == nil {
		return false
	}
	return id > 0 && id <= e.moderators.MaxModeratorID()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// pctShare computes amount*pct/100 with truncating integer division. The
// truncation is a deliberate numeric contract: settlement amounts must be
// bit-for-bit reproducible, so no rounding mode other than truncation toward
// zero is permitted.
func pctShare(amount *big.Int, pct uint32) *big.Int {
	share := new(big.Int).Mul(cloneBigInt(amount), new(big.Int).SetUint64(uint64(pct)))
	return share.Div(share, big.NewInt(100))
}

// paymentRef derives the dedupe key for a caller-supplied payment reference.
func paymentRef(buyer, seller [20]byte, ref [32]byte) [32]byte {
	digest := ethcrypto.Keccak256(buyer[:], seller[:], ref[:])
	var key [32]byte
	copy(key[:], digest)
	return key
}

// PayOrder moves the stated amount from the caller into custody and creates a
// new order in the paid state. Anyone may pay on behalf of the buyer. A
// non-zero ref makes the call idempotent: re-submitting the same (buyer,
// seller, ref) returns the existing order when its definition matches.
func (e *Engine) PayOrder(caller [20]byte, appID uint64, asset string, amount *big.Int, buyer, seller [20]byte, primaryModerator uint64, ref [32]byte) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	if e.moderators == nil {
		return nil, errNilModerators
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	app, err := e.loadApp(appID)
	if err != nil {
		return nil, err
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nativecommon.ErrInvalidArgument, err)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("%w: order amount must be positive", nativecommon.ErrInvalidArgument)
	}
	if buyer == ([20]byte{}) || seller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: buyer and seller required", nativecommon.ErrInvalidArgument)
	}
	if !e.validModeratorID(primaryModerator) {
		return nil, fmt.Errorf("%w: unknown moderator %d", nativecommon.ErrInvalidArgument, primaryModerator)
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	var refKey [32]byte
	if ref != ([32]byte{}) {
		refKey = paymentRef(buyer, seller, ref)
		if existingID, ok := e.state.OrderRefGet(refKey); ok {
			existing, loadErr := e.loadOrder(existingID)
			if loadErr != nil {
				return nil, loadErr
			}
			if existing.AppID != appID || existing.Asset != normalized || existing.Amount.Cmp(amt) != 0 ||
				existing.Buyer != buyer || existing.Seller != seller || existing.PrimaryModerator != primaryModerator {
				return nil, fmt.Errorf("%w: payment reference reused with different definition", nativecommon.ErrInvalidArgument)
			}
			return existing, nil
		}
	}

	if err := e.vault.PullIn(caller, normalized, amt); err != nil {
		return nil, fmt.Errorf("%w: %v", nativecommon.ErrTransferFailed, err)
	}
	id, err := e.state.NextOrderID()
	if err != nil {
		return nil, err
	}
	now := e.now()
	order := &Order{
		ID:               id,
		AppID:            appID,
		Asset:            normalized,
		Amount:           amt,
		Buyer:            buyer,
		Seller:           seller,
		PrimaryModerator: primaryModerator,
		CreatedAt:        now,
		ClaimDeadline:    now + app.ClaimWindowSecs,
		Status:           StatusPaid,
	}
	if err := e.storeOrder(order); err != nil {
		return nil, err
	}
	if refKey != ([32]byte{}) {
		if err := e.state.OrderRefPut(refKey, id); err != nil {
			return nil, err
		}
	}
	e.emit(NewOrderCreatedEvent(order))
	return order.Clone(), nil
}

// ConfirmDone is the buyer's direct confirmation that the order completed. The
// full amount is credited to the seller with no commission deducted, and the
// order reaches its terminal state.
func (e *Engine) ConfirmDone(caller [20]byte, orderID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock := e.lockOrder(orderID)
	defer unlock()
	order, err := e.loadOrder(orderID)
	if err != nil {
		return err
	}
	if caller != order.Buyer {
		return fmt.Errorf("%w: only the buyer may confirm", nativecommon.ErrUnauthorized)
	}
	switch order.Status {
	case StatusPaid, StatusRefundAsked, StatusRefundRefused:
	default:
		return fmt.Errorf("%w: cannot confirm in status %s", nativecommon.ErrInvalidStateTransition, order.Status)
	}
	app, err := e.loadApp(order.AppID)
	if err != nil {
		return err
	}
	dist := &Distribution{Seller: cloneBigInt(order.Amount)}
	return e.finalize(order, app, OutcomeConfirmed, dist)
}

// AskRefund opens (or updates) the dispute attached to the order. Only the
// buyer may ask, strictly before the dispute window closes; re-asking while a
// refund is already requested overwrites the dispute fields in place.
func (e *Engine) AskRefund(caller [20]byte, orderID uint64, refundAmount *big.Int, secondaryModerator uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock := e.lockOrder(orderID)
	defer unlock()
	order, err := e.loadOrder(orderID)
	if err != nil {
		return err
	}
	if caller != order.Buyer {
		return fmt.Errorf("%w: only the buyer may ask for a refund", nativecommon.ErrUnauthorized)
	}
	switch order.Status {
	case StatusPaid, StatusRefundAsked:
	default:
		return fmt.Errorf("%w: cannot ask refund in status %s", nativecommon.ErrInvalidStateTransition, order.Status)
	}
	app, err := e.loadApp(order.AppID)
	if err != nil {
		return err
	}
	now := e.now()
	if now >= order.CreatedAt+app.DisputeWindowSecs {
		return fmt.Errorf("%w: dispute window closed", nativecommon.ErrDeadlineExpired)
	}
	refund := cloneBigInt(refundAmount)
	if refund.Sign() <= 0 || refund.Cmp(order.Amount) > 0 {
		return fmt.Errorf("%w: refund amount out of range", nativecommon.ErrInvalidArgument)
	}
	if !e.validModeratorID(secondaryModerator) {
		return fmt.Errorf("%w: unknown moderator %d", nativecommon.ErrInvalidArgument, secondaryModerator)
	}
	dispute := &Dispute{
		OrderID:            order.ID,
		RefundAmount:       refund,
		SecondaryModerator: secondaryModerator,
		RefuseDeadline:     now + app.RefuseWindowSecs,
	}
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	if order.Status == StatusPaid {
		order.Status = StatusRefundAsked
		if err := e.storeOrder(order); err != nil {
			return err
		}
	}
	e.emit(NewDisputeOpenedEvent(order, dispute))
	return nil
}

// CancelRefund withdraws the buyer's refund request, returning the order to
// the paid state. The dispute record remains as history and is overwritten by
// any subsequent request.
func (e *Engine) CancelRefund(caller [20]byte, orderID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock := e.lockOrder(orderID)
	defer unlock()
	order, err := e.loadOrder(orderID)
	if err != nil {
		return err
	}
	if caller != order.Buyer {
		return fmt.Errorf("%w: only the buyer may cancel", nativecommon.ErrUnauthorized)
	}
	switch order.Status {
	case StatusRefundAsked, StatusRefundRefused:
	default:
		return fmt.Errorf("%w: cannot cancel refund in status %s", nativecommon.ErrInvalidStateTransition, order.Status)
	}
	order.Status = StatusPaid
	if err := e.storeOrder(order); err != nil {
		return err
	}
	e.emit(NewRefundCancelledEvent(order))
	return nil
}

// RefuseRefund records the seller's refusal of the requested refund.
func (e *Engine) RefuseRefund(caller [20]byte, orderID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock := e.lockOrder(orderID)
	defer unlock()
	order, err := e.loadOrder(orderID)
	if err != nil {
		return err
	}
	if caller != order.Seller {
		return fmt.Errorf("%w: only the seller may refuse", nativecommon.ErrUnauthorized)
	}
	if order.Status != StatusRefundAsked {
		return fmt.Errorf("%w: cannot refuse in status %s", nativecommon.ErrInvalidStateTransition, order.Status)
	}
	order.Status = StatusRefundRefused
	if err := e.storeOrder(order); err != nil {
		return err
	}
	e.emit(NewRefundRefusedEvent(order))
	return nil
}

// Escalate hands a refused refund to the moderator seats for voting. Either
// party may escalate.
func (e *Engine) Escalate(caller [20]byte, orderID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock := e.lockOrder(orderID)
	defer unlock()
	order, err := e.loadOrder(orderID)
	if err != nil {
		return err
	}
	if caller != order.Buyer && caller != order.Seller {
		return fmt.Errorf("%w: only the buyer or seller may escalate", nativecommon.ErrUnauthorized)
	}
	if order.Status != StatusRefundRefused {
		return fmt.Errorf("%w: cannot escalate in status %s", nativecommon.ErrInvalidStateTransition, order.Status)
	}
	order.Status = StatusEscalated
	if err := e.storeOrder(order); err != nil {
		return err
	}
	e.emit(NewEscalatedEvent(order))
	return nil
}

// Claim settles an order whose counterparty went unresponsive. The seller may
// claim a paid order strictly after the claim deadline; the buyer may claim a
// requested refund strictly after the seller let the refusal window lapse.
// Moderator commission is never deducted on this path.
func (e *Engine) Claim(caller [20]byte, orderID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock := e.lockOrder(orderID)
	defer unlock()
	order, err := e.loadOrder(orderID)
	if err != nil {
		return err
	}
	app, err := e.loadApp(order.AppID)
	if err != nil {
		return err
	}
	switch order.Status {
	case StatusPaid:
		if caller != order.Seller {
			return fmt.Errorf("%w: only the seller may claim a paid order", nativecommon.ErrUnauthorized)
		}
		if e.now() <= order.ClaimDeadline {
			return fmt.Errorf("%w: claim window still open", nativecommon.ErrDeadlineNotReached)
		}
		dist := releaseDistribution(order, app)
		e.emit(NewClaimedEvent(order, caller))
		return e.finalize(order, app, OutcomeRelease, dist)
	case StatusRefundAsked:
		if caller != order.Buyer {
			return fmt.Errorf("%w: only the buyer may claim a requested refund", nativecommon.ErrUnauthorized)
		}
		dispute, ok := e.state.DisputeGet(order.ID)
		if !ok {
			return fmt.Errorf("escrow engine: dispute missing for order %d", order.ID)
		}
		if e.now() <= dispute.RefuseDeadline {
			return fmt.Errorf("%w: refusal window still open", nativecommon.ErrDeadlineNotReached)
		}
		dist := refundDistribution(order, app, dispute)
		e.emit(NewClaimedEvent(order, caller))
		return e.finalize(order, app, OutcomeRefund, dist)
	default:
		return fmt.Errorf("%w: cannot claim in status %s", nativecommon.ErrInvalidStateTransition, order.Status)
	}
}

// Order returns the stored order, if present.
func (e *Engine) Order(id uint64) (*Order, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	return e.state.OrderGet(id)
}

// Dispute returns the dispute attached to the order, if present.
func (e *Engine) Dispute(orderID uint64) (*Dispute, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	return e.state.DisputeGet(orderID)
}

// Tally returns the vote tally for the order, if any votes were recorded.
func (e *Engine) Tally(orderID uint64) (*VoteTally, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	return e.state.TallyGet(orderID)
}

// Distribution itemizes the ledger credits produced by one settlement. The
// parts sum to the order amount within the truncation loss of the commission
// divisions.
type Distribution struct {
	Buyer      *big.Int
	Seller     *big.Int
	Owner      *big.Int
	Moderators *big.Int
}

// refundDistribution splits the order value for a refund settled without
// moderator votes: owner commission on the full amount, refund to the buyer
// and any remainder to the seller, both net of the owner rate.
func refundDistribution(order *Order, app *apps.App, dispute *Dispute) *Distribution {
	netPct := 100 - app.OwnerCommissionPct
	dist := &Distribution{
		Owner: pctShare(order.Amount, app.OwnerCommissionPct),
		Buyer: pctShare(dispute.RefundAmount, netPct),
	}
	remainder := new(big.Int).Sub(order.Amount, dispute.RefundAmount)
	if remainder.Sign() > 0 {
		dist.Seller = pctShare(remainder, netPct)
	}
	return dist
}

// releaseDistribution splits the order value for a release settled without
// moderator votes: owner commission on the full amount, the rest to the
// seller.
func releaseDistribution(order *Order, app *apps.App) *Distribution {
	return &Distribution{
		Owner:  pctShare(order.Amount, app.OwnerCommissionPct),
		Seller: pctShare(order.Amount, 100-app.OwnerCommissionPct),
	}
}

func (e *Engine) creditShare(participant [20]byte, order *Order, amount *big.Int) error {
	if e.ledger == nil {
		return errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	return e.ledger.Credit(participant, order.Asset, amount, order.ID, order.AppID)
}

// finalize credits the buyer/seller/owner shares, moves the order to its
// terminal state and emits the resolution event. Moderator shares are credited
// by the vote path before calling finalize; they appear in the distribution
// for audit only.
func (e *Engine) finalize(order *Order, app *apps.App, outcome string, dist *Distribution) error {
	if err := e.creditShare(order.Buyer, order, dist.Buyer); err != nil {
		return err
	}
	if err := e.creditShare(order.Seller, order, dist.Seller); err != nil {
		return err
	}
	if err := e.creditShare(app.Owner, order, dist.Owner); err != nil {
		return err
	}
	order.Status = StatusResolved
	if err := e.storeOrder(order); err != nil {
		return err
	}
	e.emit(NewOrderResolvedEvent(order, outcome, dist))
	return nil
}
