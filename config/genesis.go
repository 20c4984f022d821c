package config

import (
	"fmt"
	"strings"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0: it credits the Alloc balances,
// seeds the resolver set, and commits that state.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey, timestamp int64) (*core.Block, error) {
	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		if _, err := crypto.PubKeyFromHex(pubkeyHex); err != nil {
			return nil, fmt.Errorf("genesis alloc %q: %w", pubkeyHex, err)
		}
		if err := state.SetAccount(&core.Account{Address: pubkeyHex, Balance: balance}); err != nil {
			return nil, err
		}
	}
	for _, r := range cfg.Genesis.Resolvers {
		if _, err := crypto.PubKeyFromHex(r); err != nil {
			return nil, fmt.Errorf("genesis resolver %q: %w", r, err)
		}
		if err := state.SetResolver(r, true); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposerPriv.Public().Hex(), timestamp, nil)
	block.Header.StateRoot = stateRoot
	// The genesis TxRoot commits to the chain id.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Seal(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
