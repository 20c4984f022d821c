package dispute_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/internal/testutil"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/vm/modules/dispute"
)

func resolve(h *testutil.Harness, id string, accept bool, rewardPct uint64) (*vm.Receipt, error) {
	return h.Send(h.Resolver, core.TxResolveDispute, 0, core.ResolveDisputePayload{
		DisputeID: id, Accept: accept, RewardPercentage: rewardPct,
	})
}

func TestCreateDispute(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	id := h.SubmittedMatch(dev, "chess", "round-1")

	challenger, disputeID := h.OpenDispute(id)

	d := h.Dispute(disputeID)
	assert.Equal(t, id, d.MatchID)
	assert.Equal(t, "chess", d.GameID)
	assert.Equal(t, challenger.PubKey(), d.Challenger)
	assert.Equal(t, h.Params.MinDisputeBond, d.Stake)
	assert.Equal(t, core.DisputePending, d.Status)
	assert.Equal(t, []string{"ipfs://replay"}, d.Evidence)

	r := h.Result(id)
	assert.True(t, r.IsDisputed)
	assert.Equal(t, disputeID, r.DisputeID)
	assert.Equal(t, core.MatchDisputed, h.Match(id).Status)
	assert.Equal(t, uint64(1), h.Game("chess").OpenDisputes)
	assert.Equal(t, 10*core.Unit-h.Params.MinDisputeBond, h.Balance(challenger.PubKey()))
}

func TestCreateDisputeRejects(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	open := h.SubmittedMatch(dev, "chess", "round-1")
	late := h.SubmittedMatch(dev, "chess", "round-2")
	challenger := h.NewWallet(10 * core.Unit)

	create := func(matchID string, bond uint64) error {
		_, err := h.Send(challenger, core.TxCreateDispute, bond, core.CreateDisputePayload{MatchID: matchID, Reason: "x"})
		return err
	}

	assert.ErrorIs(t, create(open, h.Params.MinDisputeBond-1), core.ErrInsufficientStake)
	assert.ErrorIs(t, create("missing", h.Params.MinDisputeBond), core.ErrResultNotFound)

	h.OpenDispute(open)
	assert.ErrorIs(t, create(open, h.Params.MinDisputeBond), core.ErrAlreadyDisputed)

	h.Advance(h.Params.DisputeWindow)
	assert.ErrorIs(t, create(late, h.Params.MinDisputeBond), core.ErrDisputeWindowClosed)

	assert.Equal(t, 10*core.Unit, h.Balance(challenger.PubKey()), "rejected bonds stay with the challenger")
}

func TestAcceptedDisputeSlashesAndInvalidates(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	id := h.SubmittedMatch(dev, "chess", "round-1")
	challenger, disputeID := h.OpenDispute(id)

	rcpt, err := resolve(h, disputeID, true, 50)
	require.NoError(t, err)

	slashed := h.Params.MinStake * h.Params.FirstOffenseSlashPct / 100
	reward := slashed / 2
	d := rcpt.Result.(*core.Dispute)
	assert.Equal(t, core.DisputeAccepted, d.Status)
	assert.Equal(t, slashed, d.SlashedAmount)
	assert.Equal(t, reward, d.Reward)
	assert.Equal(t, h.Resolver.PubKey(), d.Resolver)
	assert.Equal(t, h.Now(), d.ResolvedAt)

	g := h.Game("chess")
	assert.Equal(t, h.Params.MinStake-slashed, g.StakedAmount)
	assert.False(t, g.IsActive)
	assert.Equal(t, core.ReputationInitial-h.Params.ReputationPenalty, g.Reputation)
	assert.Equal(t, uint64(1), g.TotalDisputes)
	assert.Zero(t, g.OpenDisputes)

	assert.Equal(t, 10*core.Unit+reward, h.Balance(challenger.PubKey()), "bond returned plus reward")
	assert.Equal(t, slashed-reward, h.Revenue().DisputerPool)

	r := h.Result(id)
	assert.True(t, r.Invalidated)
	assert.False(t, r.IsFinalized)

	// An invalidated result never becomes final.
	h.Advance(h.Params.DisputeWindow)
	_, err = h.Send(dev, core.TxFinalizeResult, 0, core.MatchPayload{MatchID: id})
	assert.ErrorIs(t, err, core.ErrResultInvalidated)

	_, err = resolve(h, disputeID, false, 0)
	assert.ErrorIs(t, err, core.ErrDisputeAlreadyResolved)
}

func TestRejectedDisputeForfeitsBondAndFinalizes(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	id := h.SubmittedMatch(dev, "chess", "round-1")
	challenger, disputeID := h.OpenDispute(id)

	rcpt, err := resolve(h, disputeID, false, 0)
	require.NoError(t, err)
	assert.Equal(t, core.DisputeRejected, rcpt.Result.(*core.Dispute).Status)

	g := h.Game("chess")
	assert.Equal(t, h.Params.MinStake, g.StakedAmount)
	assert.True(t, g.IsActive)
	assert.Equal(t, core.ReputationInitial+h.Params.ReputationRecovery, g.Reputation)
	assert.Zero(t, g.TotalDisputes)

	assert.Equal(t, 10*core.Unit-h.Params.MinDisputeBond, h.Balance(challenger.PubKey()))
	assert.Equal(t, h.Params.MinDisputeBond, h.Revenue().DisputerPool)

	// Final immediately, before the window would have elapsed.
	r := h.Result(id)
	assert.True(t, r.IsFinalized)
	assert.Equal(t, core.MatchFinalized, h.Match(id).Status)
}

func TestRepeatOffenderSlashRate(t *testing.T) {
	h := testutil.NewHarness(t, testutil.WithParams(func(p *core.Params) { p.RepeatOffenseAfter = 0 }))
	dev := h.RegisterGame("chess")

	_, first := h.OpenDispute(h.SubmittedMatch(dev, "chess", "round-1"))
	_, err := resolve(h, first, true, 0)
	require.NoError(t, err)
	firstSlash := h.Params.MinStake * h.Params.FirstOffenseSlashPct / 100

	// Restore the stake so the game can publish again.
	h.MustSend(dev, core.TxAddStake, firstSlash, core.GamePayload{GameID: "chess"})
	require.True(t, h.Game("chess").IsActive)

	_, second := h.OpenDispute(h.SubmittedMatch(dev, "chess", "round-2"))
	rcpt, err := resolve(h, second, true, 0)
	require.NoError(t, err)

	want := h.Params.MinStake * h.Params.RepeatOffenseSlashPct / 100
	assert.Equal(t, want, rcpt.Result.(*core.Dispute).SlashedAmount)
	assert.Equal(t, firstSlash+want, h.Revenue().DisputerPool)
}

func TestResolveRejects(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	_, disputeID := h.OpenDispute(h.SubmittedMatch(dev, "chess", "round-1"))

	_, err := h.Send(dev, core.TxResolveDispute, 0, core.ResolveDisputePayload{DisputeID: disputeID})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = resolve(h, disputeID, true, 101)
	assert.ErrorIs(t, err, core.ErrInvalidParams)

	_, err = resolve(h, "missing", true, 0)
	assert.ErrorIs(t, err, core.ErrDisputeNotFound)

	assert.Equal(t, core.DisputePending, h.Dispute(disputeID).Status)
}

func TestFailedPayoutRevertsResolution(t *testing.T) {
	payout := vm.PayoutFunc(func(*vm.Context, string, uint64) error { return errors.New("recipient refused") })
	h := testutil.NewHarness(t, testutil.WithPayout(payout))
	dev := h.RegisterGame("chess")
	id := h.SubmittedMatch(dev, "chess", "round-1")
	_, disputeID := h.OpenDispute(id)

	_, err := resolve(h, disputeID, true, 100)
	assert.ErrorIs(t, err, core.ErrTransferFailed)

	assert.Equal(t, core.DisputePending, h.Dispute(disputeID).Status)
	assert.Equal(t, h.Params.MinStake, h.Game("chess").StakedAmount)
	assert.False(t, h.Result(id).Invalidated)
	assert.Zero(t, h.Revenue().DisputerPool)
}

func TestBatchResolveIsFailSoft(t *testing.T) {
	var refused string
	payout := vm.PayoutFunc(func(ctx *vm.Context, to string, amount uint64) error {
		if to == refused {
			return errors.New("recipient refused")
		}
		return vm.LedgerPayout.Pay(ctx, to, amount)
	})
	h := testutil.NewHarness(t, testutil.WithPayout(payout))
	dev := h.RegisterGame("chess")
	h.MustSend(dev, core.TxAddStake, 10*core.Unit, core.GamePayload{GameID: "chess"})

	goodMatch := h.SubmittedMatch(dev, "chess", "round-1")
	badMatch := h.SubmittedMatch(dev, "chess", "round-2")
	_, good := h.OpenDispute(goodMatch)
	bad, badID := h.OpenDispute(badMatch)
	refused = bad.PubKey()

	rcpt := h.MustSend(h.Resolver, core.TxBatchResolve, 0, core.BatchResolvePayload{
		DisputeIDs: []string{good, "missing", badID},
		Accepts:    []bool{true, true, true},
		Rewards:    []uint64{50, 50, 50},
	})

	out := rcpt.Result.([]dispute.BatchOutcome)
	require.Len(t, out, 3)
	assert.Equal(t, core.DisputeAccepted, out[0].Status)
	assert.Empty(t, out[0].Error)
	assert.NotEmpty(t, out[1].Error)
	assert.NotEmpty(t, out[2].Error)

	var failed int
	for _, ev := range rcpt.Events {
		if ev.Type == events.EventBatchItemFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)

	// The refused item left no trace; the good one stuck.
	assert.Equal(t, core.DisputeAccepted, h.Dispute(good).Status)
	assert.True(t, h.Result(goodMatch).Invalidated)
	assert.Equal(t, core.DisputePending, h.Dispute(badID).Status)
	assert.False(t, h.Result(badMatch).Invalidated)

	g := h.Game("chess")
	slashed := 20 * core.Unit * h.Params.FirstOffenseSlashPct / 100
	assert.Equal(t, 20*core.Unit-slashed, g.StakedAmount)
	assert.Equal(t, uint64(1), g.TotalDisputes)
	assert.Equal(t, uint64(1), g.OpenDisputes)
}

func TestBatchResolveRejectsMalformed(t *testing.T) {
	h := testutil.NewHarness(t)

	_, err := h.Send(h.Resolver, core.TxBatchResolve, 0, core.BatchResolvePayload{})
	assert.ErrorIs(t, err, core.ErrInvalidParams)

	_, err = h.Send(h.Resolver, core.TxBatchResolve, 0, core.BatchResolvePayload{
		DisputeIDs: []string{"a", "b"}, Accepts: []bool{true}, Rewards: []uint64{0, 0},
	})
	assert.ErrorIs(t, err, core.ErrInvalidParams)

	_, err = h.Send(h.Admin, core.TxBatchResolve, 0, core.BatchResolvePayload{
		DisputeIDs: []string{"a"}, Accepts: []bool{true}, Rewards: []uint64{0},
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestSubmitEvidence(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	challenger, disputeID := h.OpenDispute(h.SubmittedMatch(dev, "chess", "round-1"))
	stranger := h.NewWallet(core.Unit)

	h.MustSend(challenger, core.TxSubmitEvidence, 0, core.SubmitEvidencePayload{DisputeID: disputeID, EvidenceRef: "ipfs://log"})
	h.MustSend(dev, core.TxSubmitEvidence, 0, core.SubmitEvidencePayload{DisputeID: disputeID, EvidenceRef: "ipfs://counter"})
	h.MustSend(h.Resolver, core.TxSubmitEvidence, 0, core.SubmitEvidencePayload{DisputeID: disputeID, EvidenceRef: "note"})

	_, err := h.Send(stranger, core.TxSubmitEvidence, 0, core.SubmitEvidencePayload{DisputeID: disputeID, EvidenceRef: "spam"})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = h.Send(challenger, core.TxSubmitEvidence, 0, core.SubmitEvidencePayload{DisputeID: disputeID})
	assert.ErrorIs(t, err, core.ErrInvalidParams)

	assert.Equal(t, []string{"ipfs://replay", "ipfs://log", "ipfs://counter", "note"}, h.Dispute(disputeID).Evidence)

	_, err = resolve(h, disputeID, false, 0)
	require.NoError(t, err)
	_, err = h.Send(challenger, core.TxSubmitEvidence, 0, core.SubmitEvidencePayload{DisputeID: disputeID, EvidenceRef: "late"})
	assert.ErrorIs(t, err, core.ErrDisputeAlreadyResolved)
}

func TestMarkInvestigating(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	_, disputeID := h.OpenDispute(h.SubmittedMatch(dev, "chess", "round-1"))

	_, err := h.Send(dev, core.TxMarkInvestigating, 0, core.DisputePayload{DisputeID: disputeID})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	h.MustSend(h.Resolver, core.TxMarkInvestigating, 0, core.DisputePayload{DisputeID: disputeID})
	d := h.Dispute(disputeID)
	assert.Equal(t, core.DisputeInvestigating, d.Status)
	assert.Equal(t, h.Resolver.PubKey(), d.Resolver)

	_, err = h.Send(h.Resolver, core.TxMarkInvestigating, 0, core.DisputePayload{DisputeID: disputeID})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = resolve(h, disputeID, true, 0)
	require.NoError(t, err)
}

func TestSetResolver(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	_, disputeID := h.OpenDispute(h.SubmittedMatch(dev, "chess", "round-1"))
	judge := h.NewWallet(core.Unit)

	_, err := h.Send(dev, core.TxSetResolver, 0, core.SetResolverPayload{Resolver: judge.PubKey(), Allowed: true})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	h.MustSend(h.Admin, core.TxSetResolver, 0, core.SetResolverPayload{Resolver: judge.PubKey(), Allowed: true})
	h.MustSend(judge, core.TxMarkInvestigating, 0, core.DisputePayload{DisputeID: disputeID})

	h.MustSend(h.Admin, core.TxSetResolver, 0, core.SetResolverPayload{Resolver: judge.PubKey()})
	_, err = h.Send(judge, core.TxResolveDispute, 0, core.ResolveDisputePayload{DisputeID: disputeID})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}
