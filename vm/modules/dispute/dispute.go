// Package dispute lets anyone bond tokens against an unfinalized result and
// lets the resolver set settle the challenge. Accepted challenges slash the
// game's stake and void the result; rejected ones forfeit the bond to the
// disputer pool and finalize the result.
package dispute

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/vm/modules/oracle"
	"github.com/tolelom/gameoracle/vm/modules/registry"
)

func init() {
	vm.RegisterPayable(core.TxCreateDispute, handleCreateDispute)
	vm.Register(core.TxResolveDispute, handleResolveDispute)
	vm.Register(core.TxBatchResolve, handleBatchResolve)
	vm.Register(core.TxSubmitEvidence, handleSubmitEvidence)
	vm.Register(core.TxMarkInvestigating, handleMarkInvestigating)
	vm.Register(core.TxSetResolver, handleSetResolver)
}

// LoadDispute fetches a dispute, mapping absence to core.ErrDisputeNotFound.
func LoadDispute(state core.State, id string) (*core.Dispute, error) {
	d, err := state.GetDispute(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", id, core.ErrDisputeNotFound)
	}
	return d, err
}

func requireResolver(ctx *vm.Context) error {
	ok, err := ctx.State.IsResolver(ctx.Sender())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sender is not a resolver: %w", core.ErrUnauthorized)
	}
	return nil
}

func handleCreateDispute(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateDisputePayload
	if err := vm.Decode(payload, &p, "create_dispute"); err != nil {
		return err
	}
	bond := ctx.Tx.Value
	if bond < ctx.Params.MinDisputeBond {
		return fmt.Errorf("bond %d below minimum %d: %w", bond, ctx.Params.MinDisputeBond, core.ErrInsufficientStake)
	}

	r, err := oracle.LoadResult(ctx.State, p.MatchID)
	if err != nil {
		return err
	}
	if r.IsDisputed {
		return fmt.Errorf("match %q (dispute %s): %w", r.MatchID, r.DisputeID, core.ErrAlreadyDisputed)
	}
	if r.IsFinalized || oracle.IsFinalized(ctx.Params, r, ctx.Now()) {
		return fmt.Errorf("match %q: %w", r.MatchID, core.ErrDisputeWindowClosed)
	}
	m, err := registry.LoadMatch(ctx.State, r.MatchID)
	if err != nil {
		return err
	}
	g, err := registry.LoadGame(ctx.State, r.GameID)
	if err != nil {
		return err
	}

	id := crypto.HashParts("dispute", r.MatchID, ctx.Sender(), strconv.FormatInt(ctx.Now(), 10))
	d := &core.Dispute{
		ID:         id,
		MatchID:    r.MatchID,
		GameID:     r.GameID,
		Challenger: ctx.Sender(),
		Stake:      bond,
		CreatedAt:  ctx.Now(),
		Status:     core.DisputePending,
		Reason:     p.Reason,
	}
	if p.EvidenceRef != "" {
		d.Evidence = []string{p.EvidenceRef}
	}
	if err := ctx.State.SetDispute(d); err != nil {
		return err
	}

	r.IsDisputed = true
	r.DisputeID = id
	if err := ctx.State.SetResult(r); err != nil {
		return err
	}
	if err := registry.SetMatchStatus(ctx, m, core.MatchDisputed); err != nil {
		return err
	}
	g.OpenDisputes++
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}

	ctx.Emit(events.EventDisputeCreated, map[string]any{
		"dispute_id": id, "match_id": r.MatchID, "game_id": r.GameID, "challenger": d.Challenger, "stake": bond,
	})
	ctx.SetResult(map[string]string{"dispute_id": id})
	return nil
}

// Resolve settles an open dispute. The dispute is marked resolved and every
// balance is updated before the challenger is paid.
func Resolve(ctx *vm.Context, disputeID string, accept bool, rewardPct uint64) (*core.Dispute, error) {
	d, err := LoadDispute(ctx.State, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.Status.Open() {
		return nil, fmt.Errorf("%s is %s: %w", d.ID, d.Status, core.ErrDisputeAlreadyResolved)
	}
	if rewardPct > 100 {
		return nil, fmt.Errorf("reward %d%% above 100%%: %w", rewardPct, core.ErrInvalidParams)
	}
	r, err := oracle.LoadResult(ctx.State, d.MatchID)
	if err != nil {
		return nil, err
	}
	g, err := registry.LoadGame(ctx.State, d.GameID)
	if err != nil {
		return nil, err
	}
	rev, err := ctx.State.GetRevenue()
	if err != nil {
		return nil, err
	}

	d.ResolvedAt = ctx.Now()
	d.Resolver = ctx.Sender()
	if g.OpenDisputes > 0 {
		g.OpenDisputes--
	}

	var payout uint64
	if accept {
		pct := ctx.Params.FirstOffenseSlashPct
		if g.TotalDisputes > ctx.Params.RepeatOffenseAfter {
			pct = ctx.Params.RepeatOffenseSlashPct
		}
		g.TotalDisputes++
		if err := ctx.State.SetGame(g); err != nil {
			return nil, err
		}

		slashed := core.Pct(g.StakedAmount, pct)
		if slashed > 0 {
			if _, err := registry.SlashStake(ctx, g.ID, slashed, "dispute "+d.ID); err != nil {
				return nil, err
			}
		}
		if _, err := registry.AdjustReputation(ctx, g.ID, -int64(ctx.Params.ReputationPenalty)); err != nil {
			return nil, err
		}

		reward := core.Pct(slashed, rewardPct)
		if rev.DisputerPool, err = core.AddAmount(rev.DisputerPool, slashed-reward); err != nil {
			return nil, err
		}
		if payout, err = core.AddAmount(d.Stake, reward); err != nil {
			return nil, err
		}
		d.Status = core.DisputeAccepted
		d.SlashedAmount = slashed
		d.Reward = reward

		r.Invalidated = true
		if err := ctx.State.SetResult(r); err != nil {
			return nil, err
		}
	} else {
		if err := ctx.State.SetGame(g); err != nil {
			return nil, err
		}
		if _, err := registry.AdjustReputation(ctx, g.ID, int64(ctx.Params.ReputationRecovery)); err != nil {
			return nil, err
		}
		if rev.DisputerPool, err = core.AddAmount(rev.DisputerPool, d.Stake); err != nil {
			return nil, err
		}
		d.Status = core.DisputeRejected
		if err := oracle.MarkFinalized(ctx, r); err != nil {
			return nil, err
		}
	}

	if err := ctx.State.SetRevenue(rev); err != nil {
		return nil, err
	}
	if err := ctx.State.SetDispute(d); err != nil {
		return nil, err
	}
	if err := ctx.Pay(d.Challenger, payout); err != nil {
		return nil, err
	}

	ctx.Emit(events.EventDisputeResolved, map[string]any{
		"dispute_id": d.ID, "match_id": d.MatchID, "game_id": d.GameID, "status": string(d.Status),
		"slashed": d.SlashedAmount, "reward": d.Reward, "resolver": d.Resolver,
	})
	return d, nil
}

func handleResolveDispute(ctx *vm.Context, payload json.RawMessage) error {
	if err := requireResolver(ctx); err != nil {
		return err
	}
	var p core.ResolveDisputePayload
	if err := vm.Decode(payload, &p, "resolve_dispute"); err != nil {
		return err
	}
	d, err := Resolve(ctx, p.DisputeID, p.Accept, p.RewardPercentage)
	if err != nil {
		return err
	}
	ctx.SetResult(d)
	return nil
}

// BatchOutcome reports how one item of a batch resolution went.
type BatchOutcome struct {
	DisputeID string             `json:"dispute_id"`
	Status    core.DisputeStatus `json:"status,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// handleBatchResolve settles each dispute independently. A failing item is
// rolled back and reported; the rest of the batch still applies.
func handleBatchResolve(ctx *vm.Context, payload json.RawMessage) error {
	if err := requireResolver(ctx); err != nil {
		return err
	}
	var p core.BatchResolvePayload
	if err := vm.Decode(payload, &p, "batch_resolve_disputes"); err != nil {
		return err
	}
	n := len(p.DisputeIDs)
	if n == 0 || len(p.Accepts) != n || len(p.Rewards) != n {
		return fmt.Errorf("batch needs equal non-empty ids, accepts and rewards (%d/%d/%d): %w",
			n, len(p.Accepts), len(p.Rewards), core.ErrInvalidParams)
	}

	out := make([]BatchOutcome, 0, n)
	for i, id := range p.DisputeIDs {
		cp, err := ctx.Checkpoint()
		if err != nil {
			return err
		}
		d, err := Resolve(ctx, id, p.Accepts[i], p.Rewards[i])
		if err != nil {
			if rbErr := ctx.Rollback(cp); rbErr != nil {
				return fmt.Errorf("rollback item %s: %w", id, rbErr)
			}
			ctx.Emit(events.EventBatchItemFailed, map[string]any{"dispute_id": id, "error": err.Error()})
			out = append(out, BatchOutcome{DisputeID: id, Error: err.Error()})
			continue
		}
		out = append(out, BatchOutcome{DisputeID: id, Status: d.Status})
	}
	ctx.SetResult(out)
	return nil
}

func handleSubmitEvidence(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SubmitEvidencePayload
	if err := vm.Decode(payload, &p, "submit_evidence"); err != nil {
		return err
	}
	if p.EvidenceRef == "" {
		return fmt.Errorf("evidence_ref required: %w", core.ErrInvalidParams)
	}
	d, err := LoadDispute(ctx.State, p.DisputeID)
	if err != nil {
		return err
	}
	if !d.Status.Open() {
		return fmt.Errorf("%s is %s: %w", d.ID, d.Status, core.ErrDisputeAlreadyResolved)
	}

	sender := ctx.Sender()
	allowed := sender == d.Challenger
	if !allowed {
		g, err := registry.LoadGame(ctx.State, d.GameID)
		if err != nil {
			return err
		}
		allowed = sender == g.Developer
	}
	if !allowed {
		if allowed, err = ctx.State.IsResolver(sender); err != nil {
			return err
		}
	}
	if !allowed {
		return fmt.Errorf("only the challenger, the developer or a resolver may add evidence: %w", core.ErrUnauthorized)
	}

	d.Evidence = append(d.Evidence, p.EvidenceRef)
	if err := ctx.State.SetDispute(d); err != nil {
		return err
	}
	ctx.Emit(events.EventDisputeEvidence, map[string]any{"dispute_id": d.ID, "from": sender, "ref": p.EvidenceRef})
	return nil
}

func handleMarkInvestigating(ctx *vm.Context, payload json.RawMessage) error {
	if err := requireResolver(ctx); err != nil {
		return err
	}
	var p core.DisputePayload
	if err := vm.Decode(payload, &p, "mark_investigating"); err != nil {
		return err
	}
	d, err := LoadDispute(ctx.State, p.DisputeID)
	if err != nil {
		return err
	}
	if d.Status != core.DisputePending {
		return fmt.Errorf("%s is %s: %w", d.ID, d.Status, core.ErrInvalidState)
	}
	d.Status = core.DisputeInvestigating
	d.Resolver = ctx.Sender()
	if err := ctx.State.SetDispute(d); err != nil {
		return err
	}
	ctx.Emit(events.EventDisputeInvestigating, map[string]any{"dispute_id": d.ID, "resolver": d.Resolver})
	return nil
}

func handleSetResolver(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.SetResolverPayload
	if err := vm.Decode(payload, &p, "set_resolver"); err != nil {
		return err
	}
	if _, err := crypto.PubKeyFromHex(p.Resolver); err != nil {
		return fmt.Errorf("invalid resolver pubkey: %v: %w", err, core.ErrInvalidParams)
	}
	if err := ctx.State.SetResolver(p.Resolver, p.Allowed); err != nil {
		return err
	}
	ctx.Emit(events.EventResolverUpdated, map[string]any{"resolver": p.Resolver, "allowed": p.Allowed})
	return nil
}
