package oracle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/internal/testutil"
	"github.com/tolelom/gameoracle/schema"
	"github.com/tolelom/gameoracle/vm/modules/oracle"
)

func TestSubmitThenFinalizeAfterWindow(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	id := h.ScheduleMatch(dev, "chess", "round-1")

	tx, err := dev.SubmitResult(id, schema.MatchResultV1, testutil.MatchResult, testutil.HomeWin, h.Account(dev.PubKey()).Nonce)
	require.NoError(t, err)
	rcpt, err := h.Seq.Submit(tx)
	require.NoError(t, err)
	submittedAt := h.Now()
	assert.Equal(t, submittedAt+int64(h.Params.DisputeWindow), rcpt.Result.(map[string]int64)["finalizes_at"])

	r := h.Result(id)
	assert.Equal(t, "chess", r.GameID)
	assert.Equal(t, dev.PubKey(), r.Submitter)
	assert.Equal(t, schema.MatchResultV1, r.SchemaID)
	assert.Equal(t, submittedAt, r.SubmittedAt)
	assert.False(t, r.IsFinalized)
	assert.Equal(t, core.MatchCompleted, h.Match(id).Status)

	h.Advance(h.Params.DisputeWindow - time.Nanosecond)
	_, err = h.Send(dev, core.TxFinalizeResult, 0, core.MatchPayload{MatchID: id})
	assert.ErrorIs(t, err, core.ErrWindowNotElapsed)
	assert.False(t, oracle.IsFinalized(h.Params, h.Result(id), h.Now()))

	h.Advance(time.Nanosecond)
	assert.True(t, oracle.IsFinalized(h.Params, h.Result(id), h.Now()))

	// Anyone may persist finality.
	anyone := h.NewWallet(core.Unit)
	h.MustSend(anyone, core.TxFinalizeResult, 0, core.MatchPayload{MatchID: id})
	assert.True(t, h.Result(id).IsFinalized)
	assert.Equal(t, core.MatchFinalized, h.Match(id).Status)

	_, err = h.Send(anyone, core.TxFinalizeResult, 0, core.MatchPayload{MatchID: id})
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestResultFields(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	id := h.SubmittedMatch(dev, "chess", "round-1")

	require.NoError(t, h.Seq.View(func(s core.State, _ int64) error {
		v, err := oracle.GetResultField(s, id, oracle.FieldKeyHash("winner"))
		require.NoError(t, err)
		assert.Equal(t, "home", v)

		v, err = oracle.GetResultField(s, id, oracle.FieldKeyHash("home_score"))
		require.NoError(t, err)
		assert.Equal(t, "3", v)

		// Only the fields named at submission are extracted.
		_, err = oracle.GetResultField(s, id, oracle.FieldKeyHash("away_score"))
		assert.ErrorIs(t, err, core.ErrFieldNotFound)

		_, err = oracle.GetResult(s, "missing")
		assert.ErrorIs(t, err, core.ErrResultNotFound)
		return nil
	}))
}

func TestSubmitResultRejects(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	stranger := h.NewWallet(core.Unit)
	id := h.ScheduleMatch(dev, "chess", "round-1")

	submit := func(p core.SubmitResultPayload) error {
		_, err := h.Send(dev, core.TxSubmitResult, 0, p)
		return err
	}
	valid := core.SubmitResultPayload{MatchID: id, SchemaID: schema.MatchResultV1, Payload: testutil.MatchResult}

	p := valid
	p.FieldKeys = []string{"winner"}
	assert.ErrorIs(t, submit(p), core.ErrInvalidParams, "keys without values")

	p = valid
	p.MatchID = "missing"
	assert.ErrorIs(t, submit(p), core.ErrMatchNotFound)

	p = valid
	p.SchemaID = "nope/v1"
	assert.ErrorIs(t, submit(p), core.ErrInvalidParams)

	p = valid
	p.Payload = []byte(`{"winner":"away","home_score":3,"away_score":1}`)
	assert.ErrorIs(t, submit(p), core.ErrInvalidParams, "winner disagrees with score")

	p = valid
	p.FieldKeys, p.FieldValues = []string{"winner"}, []string{"away"}
	assert.ErrorIs(t, submit(p), core.ErrInvalidParams, "field disagrees with payload")

	p = valid
	p.FieldKeys, p.FieldValues = []string{"mvp"}, []string{"x"}
	assert.ErrorIs(t, submit(p), core.ErrInvalidParams, "field not in payload")

	_, err := h.Send(stranger, core.TxSubmitResult, 0, valid)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, submit(valid))
	assert.ErrorIs(t, submit(valid), core.ErrAlreadySubmitted)
}

func TestSubmitResultNeedsLiveMatchAndGame(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	cancelled := h.ScheduleMatch(dev, "chess", "round-1")
	pending := h.ScheduleMatch(dev, "chess", "round-2")
	h.MustSend(dev, core.TxUpdateMatchStatus, 0, core.UpdateMatchStatusPayload{MatchID: cancelled, Status: core.MatchCancelled})

	p := core.SubmitResultPayload{MatchID: cancelled, SchemaID: schema.MatchResultV1, Payload: testutil.MatchResult}
	_, err := h.Send(dev, core.TxSubmitResult, 0, p)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	h.MustSend(h.Admin, core.TxSlashStake, 0, core.SlashStakePayload{GameID: "chess", Amount: 1})
	p.MatchID = pending
	_, err = h.Send(dev, core.TxSubmitResult, 0, p)
	assert.ErrorIs(t, err, core.ErrGameInactive)
}

func TestFinalizeResultRejects(t *testing.T) {
	h := testutil.NewHarness(t)
	dev := h.RegisterGame("chess")
	id := h.SubmittedMatch(dev, "chess", "round-1")

	_, err := h.Send(dev, core.TxFinalizeResult, 0, core.MatchPayload{MatchID: "missing"})
	assert.ErrorIs(t, err, core.ErrResultNotFound)

	h.OpenDispute(id)
	h.Advance(h.Params.DisputeWindow)

	// A disputed result waits for its resolver no matter how long.
	_, err = h.Send(dev, core.TxFinalizeResult, 0, core.MatchPayload{MatchID: id})
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.False(t, oracle.IsFinalized(h.Params, h.Result(id), h.Now()))
}
