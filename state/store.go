package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"modpay/native/apps"
	"modpay/native/escrow"
	"modpay/native/moderator"
	"modpay/storage"
)

// Key layout. Records are JSON-encoded; sequence counters are decimal strings
// so they stay human-readable in debugging dumps.
const (
	keyAppPrefix       = "app/"
	keyOrderPrefix     = "order/"
	keyOrderRefPrefix  = "orderref/"
	keyDisputePrefix   = "dispute/"
	keyTallyPrefix     = "tally/"
	keyModeratorPrefix = "moderator/"
	keyBalancePrefix   = "balance/"
	keyFloatPrefix     = "float/"

	keyAppSeq       = "meta/app_seq"
	keyOrderSeq     = "meta/order_seq"
	keyModeratorSeq = "meta/moderator_seq"
)

// Store adapts a key-value database to the state interfaces consumed by the
// app registry, moderator ledger, escrow engine, balance ledger and custody
// vault. Sequence counters are issued under a mutex so handles are unique even
// with concurrent writers.
type Store struct {
	db storage.Database
	mu sync.Mutex
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) putJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw)
}

func (s *Store) getJSON(key string, v interface{}) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) nextSeq(key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := uint64(0)
	raw, err := s.db.Get([]byte(key))
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		current, err = strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("state: corrupt sequence %s: %w", key, err)
		}
	}
	next := current + 1
	if err := s.db.Put([]byte(key), []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) readSeq(key string) uint64 {
	raw, err := s.db.Get([]byte(key))
	if err != nil {
		return 0
	}
	value, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// --- app registry state ---

func (s *Store) NextAppID() (uint64, error) { return s.nextSeq(keyAppSeq) }

func (s *Store) AppPut(app *apps.App) error {
	if app == nil {
		return fmt.Errorf("state: nil app")
	}
	return s.putJSON(keyAppPrefix+strconv.FormatUint(app.ID, 10), app)
}

func (s *Store) AppGet(id uint64) (*apps.App, bool) {
	app := &apps.App{}
	ok, err := s.getJSON(keyAppPrefix+strconv.FormatUint(id, 10), app)
	if err != nil || !ok {
		return nil, false
	}
	return app, true
}

// --- moderator ledger state ---

func (s *Store) NextModeratorID() (uint64, error) { return s.nextSeq(keyModeratorSeq) }

func (s *Store) ModeratorPut(mod *moderator.Moderator) error {
	if mod == nil {
		return fmt.Errorf("state: nil moderator")
	}
	return s.putJSON(keyModeratorPrefix+strconv.FormatUint(mod.ID, 10), mod)
}

func (s *Store) ModeratorGet(id uint64) (*moderator.Moderator, bool) {
	mod := &moderator.Moderator{}
	ok, err := s.getJSON(keyModeratorPrefix+strconv.FormatUint(id, 10), mod)
	if err != nil || !ok {
		return nil, false
	}
	return mod, true
}

func (s *Store) ModeratorCount() uint64 { return s.readSeq(keyModeratorSeq) }

// --- escrow engine state ---

func (s *Store) NextOrderID() (uint64, error) { return s.nextSeq(keyOrderSeq) }

func (s *Store) OrderPut(order *escrow.Order) error {
	sanitized, err := escrow.SanitizeOrder(order)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	return s.putJSON(keyOrderPrefix+strconv.FormatUint(sanitized.ID, 10), sanitized)
}

func (s *Store) OrderGet(id uint64) (*escrow.Order, bool) {
	order := &escrow.Order{}
	ok, err := s.getJSON(keyOrderPrefix+strconv.FormatUint(id, 10), order)
	if err != nil || !ok {
		return nil, false
	}
	return order, true
}

func (s *Store) OrderRefPut(ref [32]byte, id uint64) error {
	return s.db.Put([]byte(keyOrderRefPrefix+fmt.Sprintf("%x", ref)), []byte(strconv.FormatUint(id, 10)))
}

func (s *Store) OrderRefGet(ref [32]byte) (uint64, bool) {
	raw, err := s.db.Get([]byte(keyOrderRefPrefix + fmt.Sprintf("%x", ref)))
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Store) DisputePut(dispute *escrow.Dispute) error {
	if dispute == nil {
		return fmt.Errorf("state: nil dispute")
	}
	return s.putJSON(keyDisputePrefix+strconv.FormatUint(dispute.OrderID, 10), dispute)
}

func (s *Store) DisputeGet(orderID uint64) (*escrow.Dispute, bool) {
	dispute := &escrow.Dispute{}
	ok, err := s.getJSON(keyDisputePrefix+strconv.FormatUint(orderID, 10), dispute)
	if err != nil || !ok {
		return nil, false
	}
	return dispute, true
}

func (s *Store) TallyPut(tally *escrow.VoteTally) error {
	if tally == nil {
		return fmt.Errorf("state: nil tally")
	}
	return s.putJSON(keyTallyPrefix+strconv.FormatUint(tally.OrderID, 10), tally)
}

func (s *Store) TallyGet(orderID uint64) (*escrow.VoteTally, bool) {
	tally := &escrow.VoteTally{}
	ok, err := s.getJSON(keyTallyPrefix+strconv.FormatUint(orderID, 10), tally)
	if err != nil || !ok {
		return nil, false
	}
	return tally, true
}

// --- balance ledger state ---

func balanceKey(participant [20]byte, asset string) string {
	return keyBalancePrefix + fmt.Sprintf("%x", participant) + "/" + asset
}

func (s *Store) BalanceGet(participant [20]byte, asset string) (*big.Int, error) {
	raw, err := s.db.Get([]byte(balanceKey(participant, asset)))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt balance for %x/%s", participant, asset)
	}
	return balance, nil
}

func (s *Store) BalancePut(participant [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	return s.db.Put([]byte(balanceKey(participant, asset)), []byte(amount.String()))
}

// --- custody float state ---

func (s *Store) FloatGet(asset string) (*big.Int, error) {
	raw, err := s.db.Get([]byte(keyFloatPrefix + asset))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	float, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt float for %s", asset)
	}
	return float, nil
}

func (s *Store) FloatPut(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: float must be non-negative")
	}
	return s.db.Put([]byte(keyFloatPrefix+asset), []byte(amount.String()))
}
