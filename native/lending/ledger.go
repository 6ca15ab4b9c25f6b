package lending

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"moneymarket/native/bank"
	"moneymarket/observability"
	"moneymarket/storage"
)

// Ledger owns the money market state and serialises every mutating call.
// Each Update runs against a buffered overlay and either commits all of its
// writes or none of them.
type Ledger struct {
	mu     sync.RWMutex
	db     storage.Database
	clock  BlockClock
	oracle PriceOracle
	models map[common.Address]InterestRateModel
	logger *slog.Logger
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used for committed events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithOracle installs the initial price oracle.
func WithOracle(oracle PriceOracle) Option {
	return func(l *Ledger) { l.oracle = oracle }
}

// NewLedger builds a ledger over db driven by clock.
func NewLedger(db storage.Database, clock BlockClock, opts ...Option) *Ledger {
	l := &Ledger{
		db:     db,
		clock:  clock,
		models: make(map[common.Address]InterestRateModel),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetInterestRateModel binds model to market outside any transaction. It is
// used at boot to re-attach models to markets listed in a persistent store.
func (l *Ledger) SetInterestRateModel(market common.Address, model InterestRateModel) {
	if l == nil || model == nil {
		return
	}
	l.mu.Lock()
	l.models[market] = model
	l.mu.Unlock()
}

// Oracle returns the active price oracle.
func (l *Ledger) Oracle() PriceOracle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.oracle
}

// BlockNumber returns the clock's current block.
func (l *Ledger) BlockNumber() uint64 {
	if l.clock == nil {
		return 0
	}
	return l.clock.BlockNumber()
}

// Update runs fn as one atomic transaction. Writes are committed only when fn
// returns nil.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("lending: ledger not initialised")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	tx := l.newTx()
	if err := fn(tx); err != nil {
		observability.Lending().ObserveTx("update", err, time.Since(start))
		return err
	}
	if err := tx.root.Commit(); err != nil {
		observability.Lending().ObserveTx("update", err, time.Since(start))
		return fmt.Errorf("lending: commit: %w", err)
	}
	for _, hook := range tx.onCommit {
		hook()
	}
	observability.Lending().ObserveTx("update", nil, time.Since(start))
	l.publish(tx.block, tx.events)
	return nil
}

// View runs fn against a snapshot that is always discarded. Current-value
// getters may accrue interest inside fn without affecting stored state.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("lending: ledger not initialised")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx := l.newTx()
	defer tx.root.Discard()
	return fn(tx)
}

func (l *Ledger) newTx() *Tx {
	root := storage.NewOverlay(l.db)
	return &Tx{
		ledger: l,
		root:   root,
		db:     root,
		block:  l.BlockNumber(),
	}
}

func (l *Ledger) publish(block uint64, events []Event) {
	observability.Lending().RecordBlock(block)
	for _, ev := range events {
		observability.Lending().RecordEvent(ev.Type)
		attrs := make([]any, 0, len(ev.Attributes)*2+4)
		attrs = append(attrs, "event", ev.Type, "block", block)
		for key, value := range ev.Attributes {
			attrs = append(attrs, key, value)
		}
		l.logger.Info("ledger event", attrs...)
	}
}

// Tx is a ledger transaction. It is only valid inside the Update or View
// callback that produced it and must not be shared between goroutines.
type Tx struct {
	ledger   *Ledger
	root     *storage.Overlay
	db       *storage.Overlay
	block    uint64
	events   []Event
	onCommit []func()

	pendingModels map[common.Address]InterestRateModel
	pendingOracle PriceOracle
}

// BlockNumber is the block every accrual in this transaction advances to.
func (tx *Tx) BlockNumber() uint64 { return tx.block }

// DB exposes the transaction's current overlay so sibling modules (flash
// loans, the exchange) keep their state in the same atomic unit.
func (tx *Tx) DB() storage.Database { return tx.db }

// Bank returns the underlying token ledger bound to this transaction.
func (tx *Tx) Bank() *bank.Bank { return bank.New(tx.db) }

// Logger returns the ledger logger.
func (tx *Tx) Logger() *slog.Logger { return tx.ledger.logger }

// Emit queues an event for publication after commit.
func (tx *Tx) Emit(ev Event) {
	tx.events = append(tx.events, ev)
}

// Atomic runs fn in a nested overlay. If fn fails, every write, event and
// commit hook it produced is dropped, along with any oracle or rate model it
// installed, while the enclosing transaction continues.
func (tx *Tx) Atomic(fn func() error) (err error) {
	parent := tx.db
	nested := storage.NewOverlay(parent)
	eventMark, hookMark := len(tx.events), len(tx.onCommit)
	oracle, models := tx.pendingOracle, copyModels(tx.pendingModels)
	tx.db = nested
	defer func() {
		tx.db = parent
		if err != nil {
			nested.Discard()
			tx.events = tx.events[:eventMark]
			tx.onCommit = tx.onCommit[:hookMark]
			tx.pendingOracle, tx.pendingModels = oracle, models
		}
	}()
	if err = fn(); err != nil {
		return err
	}
	return nested.Commit()
}

// Oracle returns the oracle in effect for this transaction.
func (tx *Tx) Oracle() PriceOracle {
	if tx.pendingOracle != nil {
		return tx.pendingOracle
	}
	return tx.ledger.oracle
}

func copyModels(models map[common.Address]InterestRateModel) map[common.Address]InterestRateModel {
	if models == nil {
		return nil
	}
	out := make(map[common.Address]InterestRateModel, len(models))
	for market, model := range models {
		out[market] = model
	}
	return out
}

func (tx *Tx) model(market common.Address) InterestRateModel {
	if model, ok := tx.pendingModels[market]; ok {
		return model
	}
	return tx.ledger.models[market]
}

func (tx *Tx) store() store { return store{db: tx.db} }

func (tx *Tx) afterCommit(hook func()) {
	tx.onCommit = append(tx.onCommit, hook)
}

// Market returns the handle of a listed market.
func (tx *Tx) Market(addr common.Address) (*Market, error) {
	state, ok, err := tx.store().market(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, addr.Hex())
	}
	return &Market{
		tx:         tx,
		addr:       addr,
		underlying: state.Underlying,
		risk:       tx.Comptroller(),
	}, nil
}

// Comptroller returns the risk engine bound to this transaction.
func (tx *Tx) Comptroller() *Comptroller {
	return &Comptroller{
		tx: tx,
		markets: func(addr common.Address) (MarketView, error) {
			return tx.Market(addr)
		},
	}
}
