package vm

import (
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/schema"
)

// Receipt is what a successfully executed transaction returns to its sender.
type Receipt struct {
	TxID        string         `json:"tx_id"`
	Type        core.TxType    `json:"type"`
	BlockHeight int64          `json:"block_height"`
	Result      any            `json:"result,omitempty"`
	Events      []events.Event `json:"events,omitempty"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithParams sets the oracle parameters handlers observe.
func WithParams(p core.Params) Option { return func(e *Executor) { e.params = p } }

// WithAdmins sets the protocol admin addresses.
func WithAdmins(addrs []string) Option {
	return func(e *Executor) {
		e.admins = make(map[string]bool, len(addrs))
		for _, a := range addrs {
			e.admins[a] = true
		}
	}
}

// WithSchemas sets the result schema catalog.
func WithSchemas(c schema.Catalog) Option { return func(e *Executor) { e.schemas = c } }

// WithPayout replaces LedgerPayout for outbound value.
func WithPayout(p Payout) Option { return func(e *Executor) { e.payout = p } }

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.log = l } }

// Executor applies transactions to the state using the global Handler registry.
// It is not safe for concurrent use; the sequencer serializes calls. A call
// made while another is still running (for example from inside a Payout)
// fails with core.ErrReentrant.
type Executor struct {
	state    core.State
	emitter  *events.Emitter
	registry *Registry
	params   core.Params
	admins   map[string]bool
	schemas  schema.Catalog
	payout   Payout
	log      *zap.Logger
	running  atomic.Bool
}

// NewExecutor creates an Executor with the given state and event emitter.
func NewExecutor(state core.State, emitter *events.Emitter, opts ...Option) *Executor {
	e := &Executor{
		state:    state,
		emitter:  emitter,
		registry: globalRegistry,
		params:   core.DefaultParams(),
		admins:   map[string]bool{},
		schemas:  schema.Builtin(),
		payout:   LedgerPayout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.Named("vm")
	return e
}

// Params returns the parameters handlers run with.
func (e *Executor) Params() core.Params { return e.params }

// Schemas returns the schema catalog handlers validate against.
func (e *Executor) Schemas() schema.Catalog { return e.schemas }

// ExecuteBlock applies all transactions in block sequentially.
// A failing transaction causes the whole block to be rejected.
// EventBlockCommit is emitted by the caller (sequencer) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		r, err := e.ExecuteTx(block, tx)
		if err != nil {
			return nil, fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*Receipt, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("execute %s: %w", tx.Type, core.ErrReentrant)
	}
	defer e.running.Store(false)

	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("signature: %v: %w", err, core.ErrUnauthorized)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx, err := e.applyTx(block, tx)
	if err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		e.log.Debug("tx reverted", zap.String("tx", tx.ID), zap.String("type", string(tx.Type)), zap.Error(err))
		return nil, err
	}

	if e.emitter != nil {
		for _, ev := range ctx.events {
			e.emitter.Emit(ev)
		}
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return &Receipt{
		TxID:        tx.ID,
		Type:        tx.Type,
		BlockHeight: block.Header.Height,
		Result:      ctx.result,
		Events:      ctx.events,
	}, nil
}

// applyTx checks the nonce, escrows any attached value, then dispatches to
// the handler.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction) (*Context, error) {
	ent, err := e.registry.lookup(tx.Type)
	if err != nil {
		return nil, err
	}
	if tx.Value > 0 && !ent.payable {
		return nil, fmt.Errorf("%s does not accept value: %w", tx.Type, core.ErrInvalidParams)
	}

	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return nil, fmt.Errorf("invalid nonce: expected %d got %d: %w", acc.Nonce, tx.Nonce, core.ErrInvalidParams)
	}
	if acc.Nonce == math.MaxUint64 {
		return nil, fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	if acc.Balance < tx.Value {
		return nil, fmt.Errorf("value %d exceeds balance %d: %w", tx.Value, acc.Balance, core.ErrInsufficientBalance)
	}
	acc.Balance -= tx.Value
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return nil, err
	}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Params:  e.params,
		Schemas: e.schemas,
		admins:  e.admins,
		payout:  e.payout,
	}
	if err := ent.h(ctx, tx.Payload); err != nil {
		return nil, err
	}
	return ctx, nil
}
