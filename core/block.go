package core

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/gameoracle/crypto"
)

// BlockHeader is the sealed part of a block.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"` // state after the block's transactions
	TxRoot    string `json:"tx_root"`
	Timestamp int64  `json:"timestamp"` // ledger time every tx in the block observes
	Proposer  string `json:"proposer"`  // sequencer address
}

// Block is one step of the ledger. The sequencer puts a single transaction
// in each block; genesis has none.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// NewBlock returns an unsealed block at the given ledger time.
func NewBlock(height int64, prevHash, proposer string, timestamp int64, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    TxRoot(txs),
			Timestamp: timestamp,
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}

// HeaderHash hashes the JSON form of the header.
func (b *Block) HeaderHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Seal sets Hash from the header and signs it.
func (b *Block) Seal(priv crypto.PrivateKey) {
	b.Hash = b.HeaderHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// CheckSeal reports whether Hash covers the header and pub signed it.
func (b *Block) CheckSeal(pub crypto.PublicKey) error {
	if b.Hash != b.HeaderHash() {
		return fmt.Errorf("block %d: hash does not cover header", b.Header.Height)
	}
	if err := crypto.Verify(pub, []byte(b.Hash), b.Signature); err != nil {
		return fmt.Errorf("block %d: %w", b.Header.Height, err)
	}
	return nil
}

// TxRoot commits to the ordered transaction ids.
func TxRoot(txs []*Transaction) string {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	return crypto.HashParts(ids...)
}
