// Package indexer maintains secondary indexes over committed events so
// clients can list a game's matches, results and disputes without scanning
// full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/storage"
)

const (
	prefixGameMatches       = "idx:game:match:"
	prefixGameResults       = "idx:game:result:"
	prefixGameDisputes      = "idx:game:dispute:"
	prefixChallengerDispute = "idx:challenger:dispute:"
)

// Indexer subscribes to ledger events and updates secondary lookup tables.
type Indexer struct {
	db  storage.DB
	log *zap.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	idx := &Indexer{db: db, log: log.Named("indexer")}
	emitter.Subscribe(events.EventMatchScheduled, idx.onMatchScheduled)
	emitter.Subscribe(events.EventResultSubmitted, idx.onResultSubmitted)
	emitter.Subscribe(events.EventDisputeCreated, idx.onDisputeCreated)
	return idx
}

// GetMatchesByGame returns the ids of every match a game scheduled.
func (idx *Indexer) GetMatchesByGame(gameID string) ([]string, error) {
	return idx.getList(prefixGameMatches + gameID)
}

// GetResultsByGame returns the match ids a game has published results for.
func (idx *Indexer) GetResultsByGame(gameID string) ([]string, error) {
	return idx.getList(prefixGameResults + gameID)
}

// GetDisputesByGame returns the ids of disputes raised against a game.
func (idx *Indexer) GetDisputesByGame(gameID string) ([]string, error) {
	return idx.getList(prefixGameDisputes + gameID)
}

// GetDisputesByChallenger returns the ids of disputes a challenger opened.
func (idx *Indexer) GetDisputesByChallenger(addr string) ([]string, error) {
	return idx.getList(prefixChallengerDispute + addr)
}

// ---- event handlers ----

func (idx *Indexer) onMatchScheduled(ev events.Event) {
	gameID, _ := ev.Data["game_id"].(string)
	matchID, _ := ev.Data["match_id"].(string)
	if gameID == "" || matchID == "" {
		return
	}
	idx.add(prefixGameMatches+gameID, matchID)
}

func (idx *Indexer) onResultSubmitted(ev events.Event) {
	gameID, _ := ev.Data["game_id"].(string)
	matchID, _ := ev.Data["match_id"].(string)
	if gameID == "" || matchID == "" {
		return
	}
	idx.add(prefixGameResults+gameID, matchID)
}

func (idx *Indexer) onDisputeCreated(ev events.Event) {
	disputeID, _ := ev.Data["dispute_id"].(string)
	gameID, _ := ev.Data["game_id"].(string)
	challenger, _ := ev.Data["challenger"].(string)
	if disputeID == "" {
		return
	}
	if gameID != "" {
		idx.add(prefixGameDisputes+gameID, disputeID)
	}
	if challenger != "" {
		idx.add(prefixChallengerDispute+challenger, disputeID)
	}
}

// ---- list helpers ----

func (idx *Indexer) add(key, value string) {
	if err := idx.addToList(key, value); err != nil {
		idx.log.Warn("index update failed", zap.String("key", key), zap.Error(err))
	}
}

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	data, err := json.Marshal(append(ids, value))
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
