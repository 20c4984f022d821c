package core

import (
	"fmt"
	"sync"
)

// BlockStore persists sealed blocks. storage.BlockStore is the
// implementation.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns "" before genesis.
	GetTip() (string, error)
	// CommitBlock stores the block and moves the tip to it atomically.
	CommitBlock(block *Block) error
}

// Blockchain is the append-only sequence of sealed blocks.
type Blockchain struct {
	mu    sync.RWMutex
	store BlockStore
	tip   *Block
}

// NewBlockchain returns an empty chain over store; Init loads its tip.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip, if any.
func (bc *Blockchain) Init() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	hash, err := bc.store.GetTip()
	if err != nil || hash == "" {
		return err
	}
	tip, err := bc.store.GetBlock(hash)
	if err != nil {
		return fmt.Errorf("load tip: %w", err)
	}
	bc.tip = tip
	return nil
}

// AddBlock appends block. It must extend the tip by one height, link to
// its hash and not move ledger time backwards.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if tip := bc.tip; tip != nil {
		h := block.Header
		switch {
		case h.Height != tip.Header.Height+1:
			return fmt.Errorf("height %d after tip %d: %w", h.Height, tip.Header.Height, ErrInvalidState)
		case h.PrevHash != tip.Hash:
			return fmt.Errorf("prev hash %s, tip is %s: %w", h.PrevHash, tip.Hash, ErrInvalidState)
		case h.Timestamp < tip.Header.Timestamp:
			return fmt.Errorf("time %d before tip time %d: %w", h.Timestamp, tip.Header.Timestamp, ErrInvalidState)
		}
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Header.Height, err)
	}
	bc.tip = block
	return nil
}

func (bc *Blockchain) GetBlock(hash string) (*Block, error) { return bc.store.GetBlock(hash) }

func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// Tip returns the newest block, or nil before genesis.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height returns the tip height, 0 before genesis.
func (bc *Blockchain) Height() int64 {
	if tip := bc.Tip(); tip != nil {
		return tip.Header.Height
	}
	return 0
}
