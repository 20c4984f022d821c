package credit

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/vm/modules/registry"
)

func handleWithdrawRevenue(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GamePayload
	if err := vm.Decode(payload, &p, "withdraw_revenue"); err != nil {
		return err
	}
	g, err := registry.LoadGame(ctx.State, p.GameID)
	if err != nil {
		return err
	}
	if g.Developer != ctx.Sender() {
		return fmt.Errorf("only the developer of %q may withdraw: %w", g.ID, core.ErrUnauthorized)
	}
	e, err := ctx.State.GetEarnings(g.ID)
	if err != nil {
		return err
	}
	amount := e.Accrued - e.Withdrawn
	if amount == 0 {
		return fmt.Errorf("no earnings for %q: %w", g.ID, core.ErrInsufficientBalance)
	}

	e.Withdrawn = e.Accrued
	if err := ctx.State.SetEarnings(e); err != nil {
		return err
	}
	if err := ctx.Pay(g.Developer, amount); err != nil {
		return err
	}
	ctx.Emit(events.EventRevenueWithdrawn, map[string]any{"game_id": g.ID, "to": g.Developer, "amount": amount})
	ctx.SetResult(map[string]uint64{"amount": amount})
	return nil
}

func handleWithdrawTreasury(ctx *vm.Context, payload json.RawMessage) error {
	return withdrawProtocol(ctx, payload, "treasury", func(r *core.Revenue) *uint64 { return &r.Treasury })
}

func handleWithdrawDisputerPool(ctx *vm.Context, payload json.RawMessage) error {
	return withdrawProtocol(ctx, payload, "disputer_pool", func(r *core.Revenue) *uint64 { return &r.DisputerPool })
}

// withdrawProtocol pays an admin-chosen amount out of one protocol bucket.
func withdrawProtocol(ctx *vm.Context, payload json.RawMessage, bucket string, field func(*core.Revenue) *uint64) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.WithdrawPayload
	if err := vm.Decode(payload, &p, "withdraw_"+bucket); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("amount must be > 0: %w", core.ErrInvalidParams)
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("invalid recipient: %v: %w", err, core.ErrInvalidParams)
	}

	rev, err := ctx.State.GetRevenue()
	if err != nil {
		return err
	}
	bal := field(rev)
	if *bal < p.Amount {
		return fmt.Errorf("%s holds %d, want %d: %w", bucket, *bal, p.Amount, core.ErrInsufficientBalance)
	}
	*bal -= p.Amount
	if err := ctx.State.SetRevenue(rev); err != nil {
		return err
	}
	if err := ctx.Pay(p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventProtocolWithdrawn, map[string]any{"bucket": bucket, "to": p.To, "amount": p.Amount})
	return nil
}
