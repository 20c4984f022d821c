// Package credit is the metered access layer in front of the oracle.
// Consumers prepay credit, spend it (or their free daily quota) on result
// queries, and every paid query is split between the game's developer, the
// protocol treasury and the disputer pool as it is charged.
package credit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
)

func init() {
	vm.RegisterPayable(core.TxRegisterConsumer, handleRegisterConsumer)
	vm.RegisterPayable(core.TxDepositBalance, handleDepositBalance)
	vm.Register(core.TxQueryResult, handleQueryResult)
	vm.Register(core.TxBatchQueryResults, handleBatchQueryResults)
	vm.Register(core.TxWithdrawRevenue, handleWithdrawRevenue)
	vm.Register(core.TxWithdrawTreasury, handleWithdrawTreasury)
	vm.Register(core.TxWithdrawDisputerPool, handleWithdrawDisputerPool)
}

// LoadConsumer fetches a consumer, mapping absence to core.ErrConsumerNotFound.
func LoadConsumer(state core.State, addr string) (*core.ConsumerAccount, error) {
	c, err := state.GetConsumer(addr)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", addr, core.ErrConsumerNotFound)
	}
	return c, err
}

// quotaExpired reports whether c's free-quota period has rolled over at now.
// A consumer that never queried has no open period.
func quotaExpired(p core.Params, c *core.ConsumerAccount, now int64) bool {
	return c.LastReset == 0 || now >= vm.Deadline(c.LastReset, p.FreeQuotaPeriod)
}

// RemainingFreeQueries returns how many free queries c may still make at now.
func RemainingFreeQueries(p core.Params, c *core.ConsumerAccount, now int64) uint64 {
	if quotaExpired(p, c, now) {
		return p.FreeQueriesPerDay
	}
	if c.QueriesToday >= p.FreeQueriesPerDay {
		return 0
	}
	return p.FreeQueriesPerDay - c.QueriesToday
}

// DepositBonus returns the volume bonus for a single deposit: the bonus of
// the highest tier the amount reaches.
func DepositBonus(p core.Params, amount uint64) uint64 {
	var bps uint64
	for _, t := range p.BonusTiers {
		if amount >= t.MinDeposit && t.BonusBps > bps {
			bps = t.BonusBps
		}
	}
	return core.Bps(amount, bps)
}

func handleRegisterConsumer(ctx *vm.Context, _ json.RawMessage) error {
	addr := ctx.Sender()
	if _, err := ctx.State.GetConsumer(addr); err == nil {
		return fmt.Errorf("consumer %s %w", addr, core.ErrAlreadyExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check consumer: %w", err)
	}
	if ctx.Tx.Value < ctx.Params.MinConsumerDeposit {
		return fmt.Errorf("deposit %d below minimum %d: %w", ctx.Tx.Value, ctx.Params.MinConsumerDeposit, core.ErrInsufficientBalance)
	}

	c := &core.ConsumerAccount{
		Address:        addr,
		Balance:        ctx.Tx.Value,
		TotalDeposited: ctx.Tx.Value,
		RegisteredAt:   ctx.Now(),
	}
	if err := ctx.State.SetConsumer(c); err != nil {
		return err
	}
	ctx.Emit(events.EventConsumerRegistered, map[string]any{"consumer": addr, "deposit": ctx.Tx.Value})
	return nil
}

func handleDepositBalance(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DepositPayload
	if len(payload) > 0 {
		if err := vm.Decode(payload, &p, "deposit_balance"); err != nil {
			return err
		}
	}
	amount := ctx.Tx.Value
	if amount == 0 {
		return fmt.Errorf("deposit needs value: %w", core.ErrInvalidParams)
	}
	c, err := LoadConsumer(ctx.State, ctx.Sender())
	if err != nil {
		return err
	}

	bonus, err := drawIncentive(ctx, DepositBonus(ctx.Params, amount))
	if err != nil {
		return err
	}
	credit, err := core.AddAmount(amount, bonus)
	if err != nil {
		return err
	}
	if c.Balance, err = core.AddAmount(c.Balance, credit); err != nil {
		return err
	}
	if c.TotalDeposited, err = core.AddAmount(c.TotalDeposited, amount); err != nil {
		return err
	}

	// The first valid referrer sticks; unknown or self referrers are ignored.
	if c.Referrer == "" && p.Referrer != "" && p.Referrer != c.Address {
		if _, err := ctx.State.GetConsumer(p.Referrer); err == nil {
			c.Referrer = p.Referrer
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
	}
	if err := ctx.State.SetConsumer(c); err != nil {
		return err
	}

	var referral uint64
	if c.Referrer != "" {
		if referral, err = creditReferrer(ctx, c.Referrer, amount); err != nil {
			return err
		}
	}

	ctx.Emit(events.EventDeposit, map[string]any{
		"consumer": c.Address, "amount": amount, "bonus": bonus, "referrer": c.Referrer, "referral": referral,
	})
	ctx.SetResult(map[string]uint64{"credited": credit, "balance": c.Balance})
	return nil
}

// drawIncentive takes up to want out of the treasury and returns the amount
// granted. Bonus credit is only issued against fees already collected.
func drawIncentive(ctx *vm.Context, want uint64) (uint64, error) {
	if want == 0 {
		return 0, nil
	}
	rev, err := ctx.State.GetRevenue()
	if err != nil {
		return 0, err
	}
	got := min(want, rev.Treasury)
	if got == 0 {
		return 0, nil
	}
	rev.Treasury -= got
	if rev.Incentives, err = core.AddAmount(rev.Incentives, got); err != nil {
		return 0, err
	}
	return got, ctx.State.SetRevenue(rev)
}

func creditReferrer(ctx *vm.Context, addr string, amount uint64) (uint64, error) {
	ref, err := LoadConsumer(ctx.State, addr)
	if err != nil {
		return 0, err
	}
	reward, err := drawIncentive(ctx, core.Bps(amount, ctx.Params.ReferralBps))
	if err != nil || reward == 0 {
		return 0, err
	}
	if ref.Balance, err = core.AddAmount(ref.Balance, reward); err != nil {
		return 0, err
	}
	return reward, ctx.State.SetConsumer(ref)
}
