// Package registry implements game registration, match scheduling, stake
// slashing and reputation. The other oracle modules call its exported
// helpers; the privileged ones are also reachable by admins through
// transactions.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
)

func init() {
	vm.RegisterPayable(core.TxRegisterGame, handleRegisterGame)
	vm.Register(core.TxScheduleMatch, handleScheduleMatch)
	vm.Register(core.TxUpdateMatchStatus, handleUpdateMatchStatus)
	vm.Register(core.TxSlashStake, handleSlashStake)
	vm.Register(core.TxUpdateReputation, handleUpdateReputation)
	vm.Register(core.TxDeactivateGame, handleDeactivateGame)
	vm.RegisterPayable(core.TxAddStake, handleAddStake)
	vm.Register(core.TxWithdrawStake, handleWithdrawStake)
	vm.Register(core.TxSetSubmitter, handleSetSubmitter)
}

// LoadGame fetches a game, mapping absence to core.ErrGameNotFound.
func LoadGame(state core.State, id string) (*core.Game, error) {
	g, err := state.GetGame(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", id, core.ErrGameNotFound)
	}
	return g, err
}

// LoadMatch fetches a match, mapping absence to core.ErrMatchNotFound.
func LoadMatch(state core.State, id string) (*core.Match, error) {
	m, err := state.GetMatch(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", id, core.ErrMatchNotFound)
	}
	return m, err
}

// loadOwnedGame loads a game and checks the sender is its developer.
func loadOwnedGame(ctx *vm.Context, id string) (*core.Game, error) {
	g, err := LoadGame(ctx.State, id)
	if err != nil {
		return nil, err
	}
	if g.Developer != ctx.Sender() {
		return nil, fmt.Errorf("only the developer of %q may do this: %w", id, core.ErrUnauthorized)
	}
	return g, nil
}

func handleRegisterGame(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RegisterGamePayload
	if err := vm.Decode(payload, &p, "register_game"); err != nil {
		return err
	}
	if p.GameID == "" {
		return fmt.Errorf("game_id required: %w", core.ErrInvalidParams)
	}

	// Distinguish DB errors from not-found.
	if _, err := ctx.State.GetGame(p.GameID); err == nil {
		return fmt.Errorf("%q: %w", p.GameID, core.ErrAlreadyRegistered)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check game %q: %w", p.GameID, err)
	}
	if ctx.Tx.Value != ctx.Params.MinStake {
		return fmt.Errorf("got %d want %d: %w", ctx.Tx.Value, ctx.Params.MinStake, core.ErrInvalidStake)
	}

	g := &core.Game{
		ID:           p.GameID,
		Name:         p.Name,
		GameType:     p.GameType,
		Developer:    ctx.Sender(),
		StakedAmount: ctx.Tx.Value,
		IsActive:     true,
		Reputation:   core.ReputationInitial,
		RegisteredAt: ctx.Now(),
	}
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}

	ctx.Emit(events.EventGameRegistered, map[string]any{
		"game_id": g.ID, "developer": g.Developer, "stake": g.StakedAmount,
	})
	return nil
}

func handleScheduleMatch(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ScheduleMatchPayload
	if err := vm.Decode(payload, &p, "schedule_match"); err != nil {
		return err
	}
	if p.ExternalID == "" {
		return fmt.Errorf("external_id required: %w", core.ErrInvalidParams)
	}

	g, err := loadOwnedGame(ctx, p.GameID)
	if err != nil {
		return err
	}
	if !g.IsActive {
		return fmt.Errorf("%q: %w", g.ID, core.ErrGameInactive)
	}
	if p.ScheduledTime <= ctx.Now() {
		return core.ErrInvalidTime
	}
	if _, err := ctx.State.GetMatchByExternal(g.ID, p.ExternalID); err == nil {
		return fmt.Errorf("%q/%q: %w", g.ID, p.ExternalID, core.ErrDuplicateMatch)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check external id: %w", err)
	}

	// Derived from the game, external id, schedule and ledger time.
	matchID := crypto.HashParts("match", g.ID, p.ExternalID,
		strconv.FormatInt(p.ScheduledTime, 10), strconv.FormatInt(ctx.Now(), 10))

	m := &core.Match{
		ID:            matchID,
		GameID:        g.ID,
		ExternalID:    p.ExternalID,
		ScheduledTime: p.ScheduledTime,
		Status:        core.MatchScheduled,
		Metadata:      p.Metadata,
		CreatedAt:     ctx.Now(),
	}
	if err := ctx.State.SetMatch(m); err != nil {
		return err
	}
	if err := ctx.State.SetMatchByExternal(g.ID, p.ExternalID, matchID); err != nil {
		return err
	}
	g.TotalMatches++
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}

	ctx.Emit(events.EventMatchScheduled, map[string]any{
		"match_id": matchID, "game_id": g.ID, "external_id": p.ExternalID,
	})
	ctx.SetResult(map[string]string{"match_id": matchID})
	return nil
}

func handleUpdateMatchStatus(ctx *vm.Context, payload json.RawMessage) error {
	var p core.UpdateMatchStatusPayload
	if err := vm.Decode(payload, &p, "update_match_status"); err != nil {
		return err
	}
	m, err := LoadMatch(ctx.State, p.MatchID)
	if err != nil {
		return err
	}
	g, err := LoadGame(ctx.State, m.GameID)
	if err != nil {
		return err
	}
	if g.Developer != ctx.Sender() && !ctx.IsAdmin(ctx.Sender()) {
		return fmt.Errorf("match status is managed by the developer or an admin: %w", core.ErrUnauthorized)
	}

	switch {
	case p.Status == core.MatchInProgress && m.Status == core.MatchScheduled:
		m.ActualStartTime = ctx.Now()
	case p.Status == core.MatchCancelled && (m.Status == core.MatchScheduled || m.Status == core.MatchInProgress):
	default:
		return fmt.Errorf("match %s cannot move from %s to %s: %w", m.ID, m.Status, p.Status, core.ErrInvalidState)
	}
	return SetMatchStatus(ctx, m, p.Status)
}

// SetMatchStatus persists a status change and emits it.
func SetMatchStatus(ctx *vm.Context, m *core.Match, status core.MatchStatus) error {
	from := m.Status
	m.Status = status
	if err := ctx.State.SetMatch(m); err != nil {
		return err
	}
	ctx.Emit(events.EventMatchStatus, map[string]any{
		"match_id": m.ID, "game_id": m.GameID, "from": string(from), "to": string(status),
	})
	return nil
}
