package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/indexer"
	"github.com/tolelom/gameoracle/schema"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/vm/modules/credit"
	"github.com/tolelom/gameoracle/vm/modules/dispute"
	"github.com/tolelom/gameoracle/vm/modules/oracle"
	"github.com/tolelom/gameoracle/vm/modules/registry"
)

// Ledger is the sequencer surface the RPC layer needs.
type Ledger interface {
	ChainID() string
	Params() core.Params
	Submit(tx *core.Transaction) (*vm.Receipt, error)
	View(fn func(state core.State, now int64) error) error
}

type method func(params json.RawMessage) (any, error)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	ledger  Ledger
	indexer *indexer.Indexer
	schemas schema.Catalog
	methods map[string]method
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, ledger Ledger, idx *indexer.Indexer, schemas schema.Catalog) *Handler {
	h := &Handler{bc: bc, ledger: ledger, indexer: idx, schemas: schemas}
	h.methods = map[string]method{
		"sendTx":                  h.sendTx,
		"getBlockHeight":          func(json.RawMessage) (any, error) { return h.bc.Height(), nil },
		"getBlock":                h.getBlock,
		"getBalance":              h.getBalance,
		"getParams":               func(json.RawMessage) (any, error) { return h.ledger.Params(), nil },
		"getGame":                 h.getGame,
		"getMatch":                h.getMatch,
		"getMatchByExternal":      h.getMatchByExternal,
		"getResultStatus":         h.getResultStatus,
		"getDispute":              h.getDispute,
		"isResolver":              h.isResolver,
		"getConsumer":             h.getConsumer,
		"getRemainingFreeQueries": h.getRemainingFreeQueries,
		"getEarnings":             h.getEarnings,
		"getRevenue":              h.getRevenue,
		"getMatchesByGame":        h.listBy("game_id", idx.GetMatchesByGame),
		"getResultsByGame":        h.listBy("game_id", idx.GetResultsByGame),
		"getDisputesByGame":       h.listBy("game_id", idx.GetDisputesByGame),
		"getDisputesByChallenger": h.listBy("challenger", idx.GetDisputesByChallenger),
		"listSchemas":             func(json.RawMessage) (any, error) { return h.schemas.List(), nil },
	}
	return h
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	m, ok := h.methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	result, err := m(req.Params)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	return okResponse(req.ID, result)
}

// decode unmarshals params into v.
func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("params required: %w", core.ErrInvalidParams)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("params: %v: %w", err, core.ErrInvalidParams)
	}
	return nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required: %w", name, core.ErrInvalidParams)
	}
	return nil
}

type idParams struct {
	ID string `json:"id"`
}

func (h *Handler) decodeID(params json.RawMessage) (string, error) {
	var p idParams
	if err := decode(params, &p); err != nil {
		return "", err
	}
	return p.ID, required("id", p.ID)
}

// view runs fn under the sequencer lock and returns its value.
func view[T any](h *Handler, fn func(state core.State, now int64) (T, error)) (T, error) {
	var out T
	err := h.ledger.View(func(state core.State, now int64) error {
		var err error
		out, err = fn(state, now)
		return err
	})
	return out, err
}

func (h *Handler) sendTx(params json.RawMessage) (any, error) {
	var tx core.Transaction
	if err := decode(params, &tx); err != nil {
		return nil, err
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.ledger.ChainID() {
		return nil, fmt.Errorf("chain ID mismatch: got %q want %q: %w", tx.ChainID, h.ledger.ChainID(), core.ErrInvalidParams)
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	return h.ledger.Submit(&tx)
}

func (h *Handler) getBlock(params json.RawMessage) (any, error) {
	var p struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(params) > 0 {
		if err := decode(params, &p); err != nil {
			return nil, err
		}
	}

	var block *core.Block
	var err error
	switch {
	case p.Hash != "":
		block, err = h.bc.GetBlock(p.Hash)
	case p.Height != nil:
		block, err = h.bc.GetBlockByHeight(*p.Height)
	default:
		block = h.bc.Tip()
	}
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("block %w", core.ErrNotFound)
	}
	return newBlockView(block), nil
}

func (h *Handler) getBalance(params json.RawMessage) (any, error) {
	var p struct {
		Address string `json:"address"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := required("address", p.Address); err != nil {
		return nil, err
	}
	return view(h, func(state core.State, _ int64) (*core.Account, error) {
		return state.GetAccount(p.Address)
	})
}

func (h *Handler) getGame(params json.RawMessage) (any, error) {
	id, err := h.decodeID(params)
	if err != nil {
		return nil, err
	}
	return view(h, func(state core.State, _ int64) (*core.Game, error) {
		return registry.LoadGame(state, id)
	})
}

func (h *Handler) getMatch(params json.RawMessage) (any, error) {
	id, err := h.decodeID(params)
	if err != nil {
		return nil, err
	}
	return view(h, func(state core.State, _ int64) (*core.Match, error) {
		return registry.LoadMatch(state, id)
	})
}

func (h *Handler) getMatchByExternal(params json.RawMessage) (any, error) {
	var p struct {
		GameID     string `json:"game_id"`
		ExternalID string `json:"external_id"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := errors.Join(required("game_id", p.GameID), required("external_id", p.ExternalID)); err != nil {
		return nil, err
	}
	return view(h, func(state core.State, _ int64) (*core.Match, error) {
		id, err := state.GetMatchByExternal(p.GameID, p.ExternalID)
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", p.GameID, p.ExternalID, core.ErrMatchNotFound)
		}
		if err != nil {
			return nil, err
		}
		return registry.LoadMatch(state, id)
	})
}

// ResultStatus is the free view of a result: its lifecycle, not its data.
type ResultStatus struct {
	MatchID     string `json:"match_id"`
	GameID      string `json:"game_id"`
	SchemaID    string `json:"schema_id"`
	Submitter   string `json:"submitter"`
	SubmittedAt int64  `json:"submitted_at"`
	FinalizesAt int64  `json:"finalizes_at"`
	IsDisputed  bool   `json:"is_disputed"`
	IsFinalized bool   `json:"is_finalized"`
	Invalidated bool   `json:"invalidated"`
	DisputeID   string `json:"dispute_id,omitempty"`
}

func (h *Handler) getResultStatus(params json.RawMessage) (any, error) {
	id, err := h.decodeID(params)
	if err != nil {
		return nil, err
	}
	p := h.ledger.Params()
	return view(h, func(state core.State, now int64) (*ResultStatus, error) {
		r, err := oracle.LoadResult(state, id)
		if err != nil {
			return nil, err
		}
		return &ResultStatus{
			MatchID:     r.MatchID,
			GameID:      r.GameID,
			SchemaID:    r.SchemaID,
			Submitter:   r.Submitter,
			SubmittedAt: r.SubmittedAt,
			FinalizesAt: vm.Deadline(r.SubmittedAt, p.DisputeWindow),
			IsDisputed:  r.IsDisputed,
			IsFinalized: oracle.IsFinalized(p, r, now),
			Invalidated: r.Invalidated,
			DisputeID:   r.DisputeID,
		}, nil
	})
}

func (h *Handler) getDispute(params json.RawMessage) (any, error) {
	id, err := h.decodeID(params)
	if err != nil {
		return nil, err
	}
	return view(h, func(state core.State, _ int64) (*core.Dispute, error) {
		return dispute.LoadDispute(state, id)
	})
}

func (h *Handler) isResolver(params json.RawMessage) (any, error) {
	var p struct {
		Address string `json:"address"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := required("address", p.Address); err != nil {
		return nil, err
	}
	return view(h, func(state core.State, _ int64) (bool, error) {
		return state.IsResolver(p.Address)
	})
}

func (h *Handler) getConsumer(params json.RawMessage) (any, error) {
	var p struct {
		Address string `json:"address"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := required("address", p.Address); err != nil {
		return nil, err
	}
	return view(h, func(state core.State, _ int64) (*core.ConsumerAccount, error) {
		return credit.LoadConsumer(state, p.Address)
	})
}

func (h *Handler) getRemainingFreeQueries(params json.RawMessage) (any, error) {
	var p struct {
		Address string `json:"address"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := required("address", p.Address); err != nil {
		return nil, err
	}
	cp := h.ledger.Params()
	return view(h, func(state core.State, now int64) (uint64, error) {
		c, err := credit.LoadConsumer(state, p.Address)
		if err != nil {
			return 0, err
		}
		return credit.RemainingFreeQueries(cp, c, now), nil
	})
}

func (h *Handler) getEarnings(params json.RawMessage) (any, error) {
	var p struct {
		GameID string `json:"game_id"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := required("game_id", p.GameID); err != nil {
		return nil, err
	}
	return view(h, func(state core.State, _ int64) (*core.Earnings, error) {
		return state.GetEarnings(p.GameID)
	})
}

func (h *Handler) getRevenue(json.RawMessage) (any, error) {
	return view(h, func(state core.State, _ int64) (*core.Revenue, error) {
		return state.GetRevenue()
	})
}

// listBy serves an indexer lookup keyed by a single string param.
func (h *Handler) listBy(name string, lookup func(string) ([]string, error)) method {
	return func(params json.RawMessage) (any, error) {
		var p map[string]string
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if err := required(name, p[name]); err != nil {
			return nil, err
		}
		ids, err := lookup(p[name])
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []string{}
		}
		return ids, nil
	}
}
