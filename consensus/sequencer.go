// Package consensus implements the single-sequencer block producer. Every
// accepted transaction is executed, sealed into its own signed block and
// committed before the next one is looked at, so the ledger observes one
// operation at a time.
package consensus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tolelom/gameoracle/config"
	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
)

// Sequencer orders, executes and seals transactions.
type Sequencer struct {
	mu      sync.Mutex
	chainID string
	bc      *core.Blockchain
	state   core.State
	exec    *vm.Executor
	emitter *events.Emitter
	clock   core.Clock
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	log     *zap.Logger
}

// New creates a Sequencer signing blocks with privKey.
func New(
	chainID string,
	bc *core.Blockchain,
	state core.State,
	exec *vm.Executor,
	emitter *events.Emitter,
	clock core.Clock,
	privKey crypto.PrivateKey,
	log *zap.Logger,
) *Sequencer {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{
		chainID: chainID,
		bc:      bc,
		state:   state,
		exec:    exec,
		emitter: emitter,
		clock:   clock,
		privKey: privKey,
		pubKey:  privKey.Public(),
		log:     log.Named("sequencer"),
	}
}

// ChainID returns the chain id transactions must carry.
func (s *Sequencer) ChainID() string { return s.chainID }

// Params returns the oracle parameters in force.
func (s *Sequencer) Params() core.Params { return s.exec.Params() }

// now returns the ledger time for the next block: the clock, but never
// earlier than the tip.
func (s *Sequencer) now() int64 {
	now := s.clock.Now().UnixNano()
	if tip := s.bc.Tip(); tip != nil && now < tip.Header.Timestamp {
		return tip.Header.Timestamp
	}
	return now
}

// Submit executes tx in a new block and commits it. A failing transaction
// leaves no trace: no block, no state change, no events.
func (s *Sequencer) Submit(tx *core.Transaction) (*vm.Receipt, error) {
	if tx.ChainID != s.chainID {
		return nil, fmt.Errorf("chain id %q, want %q: %w", tx.ChainID, s.chainID, core.ErrInvalidParams)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tip := s.bc.Tip()
	prevHash, height := config.GenesisHash, int64(1)
	if tip != nil {
		prevHash, height = tip.Hash, tip.Header.Height+1
	}
	block := core.NewBlock(height, prevHash, s.pubKey.Hex(), s.now(), []*core.Transaction{tx})

	snap, err := s.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	receipts, err := s.exec.ExecuteBlock(block)
	if err != nil {
		s.revert(snap)
		return nil, err
	}

	// The root comes from the write buffer; nothing is flushed until the
	// block is stored.
	block.Header.StateRoot = s.state.ComputeRoot()
	block.Seal(s.privKey)

	if err := s.bc.AddBlock(block); err != nil {
		s.revert(snap)
		return nil, fmt.Errorf("add block: %w", err)
	}
	if err := s.state.Commit(); err != nil {
		s.log.Fatal("block stored but state commit failed",
			zap.Int64("height", block.Header.Height), zap.Error(err))
	}

	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
		})
	}
	s.log.Debug("block committed",
		zap.Int64("height", block.Header.Height),
		zap.String("tx", tx.ID),
		zap.String("type", string(tx.Type)))
	return receipts[0], nil
}

func (s *Sequencer) revert(snap int) {
	if err := s.state.RevertToSnapshot(snap); err != nil {
		s.log.Error("revert state", zap.Int("snapshot", snap), zap.Error(err))
	}
}

// View runs fn against the committed state at the current ledger time.
// fn must not modify state.
func (s *Sequencer) View(fn func(state core.State, now int64) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state, s.now())
}

// VerifyBlock checks that block was sealed by this sequencer.
func (s *Sequencer) VerifyBlock(block *core.Block) error {
	if block.Header.Proposer != s.pubKey.Hex() {
		return fmt.Errorf("block %d sealed by %s, not this sequencer", block.Header.Height, block.Header.Proposer)
	}
	return block.CheckSeal(s.pubKey)
}
