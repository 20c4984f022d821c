package registry

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
)

// SlashStake removes amount from a game's stake and deactivates the game if
// what remains is below MinStake. The slashed tokens are the caller's to
// distribute.
func SlashStake(ctx *vm.Context, gameID string, amount uint64, reason string) (*core.Game, error) {
	g, err := LoadGame(ctx.State, gameID)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("slash amount must be > 0: %w", core.ErrInvalidParams)
	}
	if amount > g.StakedAmount {
		return nil, fmt.Errorf("slash %d exceeds stake %d: %w", amount, g.StakedAmount, core.ErrInsufficientStake)
	}
	g.StakedAmount -= amount
	deactivated := g.IsActive && g.StakedAmount < ctx.Params.MinStake
	if deactivated {
		g.IsActive = false
	}
	if err := ctx.State.SetGame(g); err != nil {
		return nil, err
	}

	ctx.Emit(events.EventStakeSlashed, map[string]any{
		"game_id": g.ID, "amount": amount, "remaining": g.StakedAmount, "reason": reason,
	})
	if deactivated {
		ctx.Emit(events.EventGameDeactivated, map[string]any{"game_id": g.ID, "reason": "stake below minimum"})
	}
	return g, nil
}

// SetReputation stores score clamped to the reputation bounds.
func SetReputation(ctx *vm.Context, gameID string, score uint64) (*core.Game, error) {
	g, err := LoadGame(ctx.State, gameID)
	if err != nil {
		return nil, err
	}
	old := g.Reputation
	g.Reputation = min(max(score, core.ReputationMin), core.ReputationMax)
	if err := ctx.State.SetGame(g); err != nil {
		return nil, err
	}
	ctx.Emit(events.EventReputationUpdated, map[string]any{"game_id": g.ID, "from": old, "to": g.Reputation})
	return g, nil
}

// AdjustReputation moves a game's reputation by delta within the bounds.
func AdjustReputation(ctx *vm.Context, gameID string, delta int64) (*core.Game, error) {
	g, err := LoadGame(ctx.State, gameID)
	if err != nil {
		return nil, err
	}
	score := g.Reputation
	if delta < 0 {
		if d := uint64(-delta); d > score {
			score = 0
		} else {
			score -= d
		}
	} else {
		score += uint64(delta)
	}
	return SetReputation(ctx, gameID, score)
}

func handleSlashStake(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.SlashStakePayload
	if err := vm.Decode(payload, &p, "slash_stake"); err != nil {
		return err
	}
	if _, err := SlashStake(ctx, p.GameID, p.Amount, p.Reason); err != nil {
		return err
	}
	// Admin slashes have no challenger; the tokens go to the treasury.
	rev, err := ctx.State.GetRevenue()
	if err != nil {
		return err
	}
	if rev.Treasury, err = core.AddAmount(rev.Treasury, p.Amount); err != nil {
		return err
	}
	return ctx.State.SetRevenue(rev)
}

func handleUpdateReputation(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.UpdateReputationPayload
	if err := vm.Decode(payload, &p, "update_reputation"); err != nil {
		return err
	}
	_, err := SetReputation(ctx, p.GameID, p.Score)
	return err
}

func handleDeactivateGame(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GamePayload
	if err := vm.Decode(payload, &p, "deactivate_game"); err != nil {
		return err
	}
	g, err := loadOwnedGame(ctx, p.GameID)
	if err != nil {
		return err
	}
	if g.DeactivatedAt != 0 {
		return fmt.Errorf("game %q already deactivated: %w", g.ID, core.ErrInvalidState)
	}
	g.IsActive = false
	g.DeactivatedAt = ctx.Now()
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}
	ctx.Emit(events.EventGameDeactivated, map[string]any{"game_id": g.ID, "reason": "developer"})
	return nil
}

func handleAddStake(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GamePayload
	if err := vm.Decode(payload, &p, "add_stake"); err != nil {
		return err
	}
	if ctx.Tx.Value == 0 {
		return fmt.Errorf("add_stake needs value: %w", core.ErrInvalidParams)
	}
	g, err := loadOwnedGame(ctx, p.GameID)
	if err != nil {
		return err
	}
	if g.StakedAmount, err = core.AddAmount(g.StakedAmount, ctx.Tx.Value); err != nil {
		return err
	}
	if g.DeactivatedAt == 0 && g.StakedAmount >= ctx.Params.MinStake {
		g.IsActive = true
	}
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}
	ctx.Emit(events.EventStakeAdded, map[string]any{"game_id": g.ID, "amount": ctx.Tx.Value, "stake": g.StakedAmount})
	return nil
}

func handleWithdrawStake(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GamePayload
	if err := vm.Decode(payload, &p, "withdraw_stake"); err != nil {
		return err
	}
	g, err := loadOwnedGame(ctx, p.GameID)
	if err != nil {
		return err
	}
	if g.DeactivatedAt == 0 {
		return fmt.Errorf("game %q must be deactivated by its developer first: %w", g.ID, core.ErrInvalidState)
	}
	if unlock := vm.Deadline(g.DeactivatedAt, ctx.Params.StakeWithdrawCooldown); ctx.Now() < unlock {
		return fmt.Errorf("stake unlocks at %d: %w", unlock, core.ErrWindowNotElapsed)
	}
	if g.OpenDisputes > 0 {
		return fmt.Errorf("game %q has %d open disputes: %w", g.ID, g.OpenDisputes, core.ErrInvalidState)
	}
	amount := g.StakedAmount
	if amount == 0 {
		return fmt.Errorf("nothing to withdraw: %w", core.ErrInsufficientStake)
	}

	g.StakedAmount = 0
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}
	if err := ctx.Pay(g.Developer, amount); err != nil {
		return err
	}
	ctx.Emit(events.EventStakeWithdrawn, map[string]any{"game_id": g.ID, "amount": amount})
	return nil
}

func handleSetSubmitter(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetSubmitterPayload
	if err := vm.Decode(payload, &p, "set_submitter"); err != nil {
		return err
	}
	if _, err := crypto.PubKeyFromHex(p.Submitter); err != nil {
		return fmt.Errorf("invalid submitter pubkey: %v: %w", err, core.ErrInvalidParams)
	}
	g, err := loadOwnedGame(ctx, p.GameID)
	if err != nil {
		return err
	}
	if p.Allowed {
		if g.Submitters == nil {
			g.Submitters = map[string]bool{}
		}
		g.Submitters[p.Submitter] = true
	} else {
		delete(g.Submitters, p.Submitter)
	}
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}
	ctx.Emit(events.EventSubmitterUpdated, map[string]any{"game_id": g.ID, "submitter": p.Submitter, "allowed": p.Allowed})
	return nil
}
