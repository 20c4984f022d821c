// Package oracle stores match results and decides when they are final.
// A result becomes final once its dispute window passes undisputed, or when
// a dispute against it is rejected. Finalization is evaluated lazily against
// ledger time; finalize_result only persists what is already true.
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/vm/modules/registry"
)

func init() {
	vm.Register(core.TxSubmitResult, handleSubmitResult)
	vm.Register(core.TxFinalizeResult, handleFinalizeResult)
}

// FieldKeyHash is the storage key of a quick-access result field.
func FieldKeyHash(key string) string {
	return crypto.Hash([]byte(key))
}

// IsFinalized reports whether r is final at ledger time now.
func IsFinalized(p core.Params, r *core.Result, now int64) bool {
	if r.IsFinalized {
		return true
	}
	return !r.IsDisputed && !r.Invalidated && now >= vm.Deadline(r.SubmittedAt, p.DisputeWindow)
}

// LoadResult fetches a result, mapping absence to core.ErrResultNotFound.
func LoadResult(state core.State, matchID string) (*core.Result, error) {
	r, err := state.GetResult(matchID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("match %q: %w", matchID, core.ErrResultNotFound)
	}
	return r, err
}

// GetResult returns the full result record for matchID. It does not require
// the result to be final.
func GetResult(state core.State, matchID string) (*core.Result, error) {
	return LoadResult(state, matchID)
}

// GetResultField returns one pre-extracted field without decoding the payload.
func GetResultField(state core.State, matchID, keyHash string) (string, error) {
	r, err := LoadResult(state, matchID)
	if err != nil {
		return "", err
	}
	v, ok := r.Fields[keyHash]
	if !ok {
		return "", fmt.Errorf("match %q key %s: %w", matchID, keyHash, core.ErrFieldNotFound)
	}
	return v, nil
}

// RequireFinal loads the result for matchID and fails unless it may be served
// to a paying reader. A result that is final but not yet marked is persisted
// as finalized.
func RequireFinal(ctx *vm.Context, matchID string) (*core.Result, error) {
	r, err := LoadResult(ctx.State, matchID)
	if err != nil {
		return nil, err
	}
	if r.Invalidated {
		return nil, fmt.Errorf("match %q: %w", matchID, core.ErrResultInvalidated)
	}
	if !IsFinalized(ctx.Params, r, ctx.Now()) {
		return nil, fmt.Errorf("match %q: %w", matchID, core.ErrResultNotFinalized)
	}
	if !r.IsFinalized {
		if err := MarkFinalized(ctx, r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MarkFinalized persists r as final and moves its match to Finalized.
func MarkFinalized(ctx *vm.Context, r *core.Result) error {
	r.IsFinalized = true
	if err := ctx.State.SetResult(r); err != nil {
		return err
	}
	m, err := registry.LoadMatch(ctx.State, r.MatchID)
	if err != nil {
		return err
	}
	if m.Status != core.MatchFinalized {
		if err := registry.SetMatchStatus(ctx, m, core.MatchFinalized); err != nil {
			return err
		}
	}
	ctx.Emit(events.EventResultFinalized, map[string]any{"match_id": r.MatchID, "game_id": r.GameID})
	return nil
}

func handleSubmitResult(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SubmitResultPayload
	if err := vm.Decode(payload, &p, "submit_result"); err != nil {
		return err
	}
	if len(p.FieldKeys) != len(p.FieldValues) {
		return fmt.Errorf("%d field keys for %d values: %w", len(p.FieldKeys), len(p.FieldValues), core.ErrInvalidParams)
	}

	m, err := registry.LoadMatch(ctx.State, p.MatchID)
	if err != nil {
		return err
	}
	g, err := registry.LoadGame(ctx.State, m.GameID)
	if err != nil {
		return err
	}
	if !g.CanSubmit(ctx.Sender()) {
		return fmt.Errorf("not a submitter for %q: %w", g.ID, core.ErrUnauthorized)
	}
	if _, err := ctx.State.GetResult(m.ID); err == nil {
		return fmt.Errorf("match %q: %w", m.ID, core.ErrAlreadySubmitted)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check result: %w", err)
	}
	if !g.IsActive {
		return fmt.Errorf("%q: %w", g.ID, core.ErrGameInactive)
	}
	if m.Status != core.MatchScheduled && m.Status != core.MatchInProgress {
		return fmt.Errorf("match %q is %s: %w", m.ID, m.Status, core.ErrInvalidState)
	}

	s, err := ctx.Schemas.Lookup(p.SchemaID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrInvalidParams)
	}
	decoded, err := s.Decode(p.Payload)
	if err != nil {
		return err
	}
	fields := make(map[string]string, len(p.FieldKeys))
	for i, key := range p.FieldKeys {
		want, ok := decoded[key]
		if !ok {
			return fmt.Errorf("field %q not in payload: %w", key, core.ErrInvalidParams)
		}
		if p.FieldValues[i] != want {
			return fmt.Errorf("field %q is %q in payload, got %q: %w", key, want, p.FieldValues[i], core.ErrInvalidParams)
		}
		fields[FieldKeyHash(key)] = want
	}

	r := &core.Result{
		MatchID:     m.ID,
		GameID:      g.ID,
		Submitter:   ctx.Sender(),
		Payload:     p.Payload,
		SchemaID:    s.ID,
		Fields:      fields,
		SubmittedAt: ctx.Now(),
	}
	if err := ctx.State.SetResult(r); err != nil {
		return err
	}
	if err := registry.SetMatchStatus(ctx, m, core.MatchCompleted); err != nil {
		return err
	}

	ctx.Emit(events.EventResultSubmitted, map[string]any{
		"match_id": m.ID, "game_id": g.ID, "submitter": r.Submitter, "schema_id": s.ID,
	})
	ctx.SetResult(map[string]int64{"finalizes_at": vm.Deadline(r.SubmittedAt, ctx.Params.DisputeWindow)})
	return nil
}

func handleFinalizeResult(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MatchPayload
	if err := vm.Decode(payload, &p, "finalize_result"); err != nil {
		return err
	}
	r, err := LoadResult(ctx.State, p.MatchID)
	if err != nil {
		return err
	}
	switch {
	case r.IsFinalized:
		return fmt.Errorf("match %q already finalized: %w", r.MatchID, core.ErrInvalidState)
	case r.Invalidated:
		return fmt.Errorf("match %q: %w", r.MatchID, core.ErrResultInvalidated)
	case r.IsDisputed:
		return fmt.Errorf("match %q awaits dispute resolution: %w", r.MatchID, core.ErrInvalidState)
	case !IsFinalized(ctx.Params, r, ctx.Now()):
		return fmt.Errorf("finalizes at %d: %w", vm.Deadline(r.SubmittedAt, ctx.Params.DisputeWindow), core.ErrWindowNotElapsed)
	}
	return MarkFinalized(ctx, r)
}
