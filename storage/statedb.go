package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
)

// registerPrefix adds p to the prefixes ComputeRoot scans.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixGame     = registerPrefix("game:")
	prefixMatch    = registerPrefix("match:")
	prefixMatchExt = registerPrefix("mext:")
	prefixResult   = registerPrefix("result:")
	prefixDispute  = registerPrefix("dispute:")
	prefixResolver = registerPrefix("resolver:")
	prefixConsumer = registerPrefix("consumer:")
	prefixEarnings = registerPrefix("earn:")
	keyRevenue     = registerPrefix("revenue")
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func getRecord[T any](s *StateDB, key string) (*T, error) {
	data, err := s.get(key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// getOrZero is getRecord for balance-like records that exist implicitly.
func getOrZero[T any](s *StateDB, key string, zero *T) (*T, error) {
	v, err := getRecord[T](s, key)
	if errors.Is(err, core.ErrNotFound) {
		return zero, nil
	}
	return v, err
}

func (s *StateDB) setRecord(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	return getOrZero(s, prefixAccount+address, &core.Account{Address: address})
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setRecord(prefixAccount+acc.Address, acc)
}

// ---- Registry ----

func (s *StateDB) GetGame(id string) (*core.Game, error) {
	return getRecord[core.Game](s, prefixGame+id)
}

func (s *StateDB) SetGame(g *core.Game) error {
	return s.setRecord(prefixGame+g.ID, g)
}

func (s *StateDB) GetMatch(id string) (*core.Match, error) {
	return getRecord[core.Match](s, prefixMatch+id)
}

func (s *StateDB) SetMatch(m *core.Match) error {
	return s.setRecord(prefixMatch+m.ID, m)
}

func (s *StateDB) GetMatchByExternal(gameID, extID string) (string, error) {
	data, err := s.get(prefixMatchExt + crypto.HashParts(gameID, extID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *StateDB) SetMatchByExternal(gameID, extID, matchID string) error {
	s.set(prefixMatchExt+crypto.HashParts(gameID, extID), []byte(matchID))
	return nil
}

// ---- Oracle ----

func (s *StateDB) GetResult(matchID string) (*core.Result, error) {
	return getRecord[core.Result](s, prefixResult+matchID)
}

func (s *StateDB) SetResult(r *core.Result) error {
	return s.setRecord(prefixResult+r.MatchID, r)
}

// ---- Disputes ----

func (s *StateDB) GetDispute(id string) (*core.Dispute, error) {
	return getRecord[core.Dispute](s, prefixDispute+id)
}

func (s *StateDB) SetDispute(d *core.Dispute) error {
	return s.setRecord(prefixDispute+d.ID, d)
}

func (s *StateDB) IsResolver(address string) (bool, error) {
	_, err := s.get(prefixResolver + address)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *StateDB) SetResolver(address string, allowed bool) error {
	if allowed {
		s.set(prefixResolver+address, []byte{1})
	} else {
		s.del(prefixResolver + address)
	}
	return nil
}

// ---- Credit ----

func (s *StateDB) GetConsumer(address string) (*core.ConsumerAccount, error) {
	return getRecord[core.ConsumerAccount](s, prefixConsumer+address)
}

func (s *StateDB) SetConsumer(c *core.ConsumerAccount) error {
	return s.setRecord(prefixConsumer+c.Address, c)
}

func (s *StateDB) GetEarnings(gameID string) (*core.Earnings, error) {
	return getOrZero(s, prefixEarnings+gameID, &core.Earnings{GameID: gameID})
}

func (s *StateDB) SetEarnings(e *core.Earnings) error {
	return s.setRecord(prefixEarnings+e.GameID, e)
}

func (s *StateDB) GetRevenue() (*core.Revenue, error) {
	return getOrZero(s, keyRevenue, &core.Revenue{})
}

func (s *StateDB) SetRevenue(r *core.Revenue) error {
	return s.setRecord(keyRevenue, r)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer saved by Snapshot id and drops
// that snapshot and every later one.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot hashes every persisted record overlaid with the write buffer,
// sorted by key and length-prefixed. It does not flush.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	for k, v := range s.dirty {
		merged[k] = v
	}

	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit writes the buffer to the DB in one batch and clears it along with
// all snapshots.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
