package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/gameoracle/core"
)

const (
	prefixBlock  = "block:"
	prefixHeight = "height:"
	keyTip       = "chain:tip"
)

// BlockStore keeps sealed blocks by hash, a height index and the tip
// pointer in the same DB as the ledger state.
type BlockStore struct {
	db DB
}

// NewBlockStore wraps db.
func NewBlockStore(db DB) *BlockStore { return &BlockStore{db: db} }

func (s *BlockStore) GetBlock(hash string) (*core.Block, error) {
	data, err := s.db.Get([]byte(prefixBlock + hash))
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, err)
	}
	var b core.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", hash, err)
	}
	return &b, nil
}

func (s *BlockStore) GetBlockByHeight(height int64) (*core.Block, error) {
	hash, err := s.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("block at height %d: %w", height, err)
	}
	return s.GetBlock(string(hash))
}

// GetTip returns the tip hash, or "" before genesis.
func (s *BlockStore) GetTip() (string, error) {
	val, err := s.db.Get([]byte(keyTip))
	switch {
	case errors.Is(err, core.ErrNotFound):
		return "", nil
	case err != nil:
		return "", err
	}
	return string(val), nil
}

// CommitBlock writes the block, its height entry and the new tip in one batch.
func (s *BlockStore) CommitBlock(block *core.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Set([]byte(prefixBlock+block.Hash), data)
	batch.Set(heightKey(block.Header.Height), []byte(block.Hash))
	batch.Set([]byte(keyTip), []byte(block.Hash))
	return batch.Write()
}

// heightKey zero-pads so the index iterates in height order.
func heightKey(height int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixHeight, height))
}
