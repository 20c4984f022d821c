package vm_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/internal/testutil"
	"github.com/tolelom/gameoracle/storage"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/wallet"
)

const (
	txPartial core.TxType = "test_partial"
	txFail    core.TxType = "test_fail"
	txEscrow  core.TxType = "test_escrow"
	txPay     core.TxType = "test_pay"
)

// partialPayload marks accounts and keeps only the marks not rolled back.
type partialPayload struct {
	Keep []string `json:"keep"`
	Drop []string `json:"drop"`
}

func init() {
	vm.Register(txPartial, func(ctx *vm.Context, payload json.RawMessage) error {
		var p partialPayload
		if err := vm.Decode(payload, &p, string(txPartial)); err != nil {
			return err
		}
		mark := func(addr string) error {
			ctx.Emit(events.EventTokenTransfer, map[string]any{"to": addr})
			return ctx.State.SetAccount(&core.Account{Address: addr, Balance: 1})
		}
		for _, addr := range p.Keep {
			if err := mark(addr); err != nil {
				return err
			}
		}
		for _, addr := range p.Drop {
			cp, err := ctx.Checkpoint()
			if err != nil {
				return err
			}
			if err := mark(addr); err != nil {
				return err
			}
			if err := ctx.Rollback(cp); err != nil {
				return err
			}
		}
		return nil
	})
	vm.Register(txFail, func(ctx *vm.Context, _ json.RawMessage) error {
		ctx.Emit(events.EventTokenTransfer, nil)
		if err := ctx.State.SetAccount(&core.Account{Address: "scratch", Balance: 99}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	vm.RegisterPayable(txEscrow, func(*vm.Context, json.RawMessage) error { return nil })
	vm.Register(txPay, func(ctx *vm.Context, _ json.RawMessage) error { return ctx.Pay(ctx.Sender(), 1) })
}

type fixture struct {
	state *storage.StateDB
	exec  *vm.Executor
	block *core.Block
	alice *wallet.Wallet
	seen  []events.Event
}

func newFixture(t *testing.T, opts ...vm.Option) *fixture {
	t.Helper()
	f := &fixture{state: testutil.NewStateDB()}
	state := f.state
	emitter := events.NewEmitter(nil)
	emitter.SubscribeAll(func(ev events.Event) { f.seen = append(f.seen, ev) })
	f.exec = vm.NewExecutor(state, emitter, opts...)

	var err error
	f.alice, err = wallet.Generate(testutil.ChainID)
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: f.alice.PubKey(), Balance: 1000}))
	f.block = core.NewBlock(1, "prev", f.alice.PubKey(), testutil.Epoch.UnixNano(), nil)
	return f
}

func (f *fixture) run(t *testing.T, typ core.TxType, nonce, value uint64, payload any) (*vm.Receipt, error) {
	t.Helper()
	tx, err := f.alice.NewTx(typ, nonce, value, payload)
	require.NoError(t, err)
	return f.exec.ExecuteTx(f.block, tx)
}

func (f *fixture) account(t *testing.T, addr string) *core.Account {
	t.Helper()
	acc, err := f.state.GetAccount(addr)
	require.NoError(t, err)
	return acc
}

func TestExecuteTxAdvancesNonceAndEscrowsValue(t *testing.T) {
	f := newFixture(t)

	r, err := f.run(t, txEscrow, 0, 400, nil)
	require.NoError(t, err)
	assert.Equal(t, txEscrow, r.Type)
	assert.Equal(t, int64(1), r.BlockHeight)

	acc := f.account(t, f.alice.PubKey())
	assert.Equal(t, uint64(600), acc.Balance)
	assert.Equal(t, uint64(1), acc.Nonce)

	_, err = f.run(t, txEscrow, 0, 1, nil)
	assert.ErrorIs(t, err, core.ErrInvalidParams, "stale nonce")

	_, err = f.run(t, txEscrow, 1, 601, nil)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
}

func TestExecuteTxRejectsValueOnNonPayable(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, txPartial, 0, 1, partialPayload{})
	assert.ErrorIs(t, err, core.ErrInvalidParams)
	assert.Equal(t, uint64(1000), f.account(t, f.alice.PubKey()).Balance)
}

func TestExecuteTxRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	tx, err := f.alice.NewTx(txEscrow, 0, 0, nil)
	require.NoError(t, err)
	tx.Value = 5
	tx.ID = ""

	_, err = f.exec.ExecuteTx(f.block, tx)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestExecuteTxUnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "no_such_tx", 0, 0, nil)
	assert.ErrorIs(t, err, core.ErrInvalidParams)
}

func TestFailedTxLeavesNoTrace(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, txFail, 0, 0, nil)
	require.Error(t, err)

	assert.Empty(t, f.seen)
	assert.Zero(t, f.account(t, "scratch").Balance)
	assert.Zero(t, f.account(t, f.alice.PubKey()).Nonce)
}

func TestCheckpointRollback(t *testing.T) {
	f := newFixture(t)

	r, err := f.run(t, txPartial, 0, 0, partialPayload{Keep: []string{"a", "b"}, Drop: []string{"c"}})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), f.account(t, "a").Balance)
	assert.Equal(t, uint64(1), f.account(t, "b").Balance)
	assert.Zero(t, f.account(t, "c").Balance)

	require.Len(t, r.Events, 2)
	assert.Equal(t, "a", r.Events[0].Data["to"])
	assert.Equal(t, "b", r.Events[1].Data["to"])

	// Receipt events plus tx_executed reach subscribers.
	require.Len(t, f.seen, 3)
	assert.Equal(t, events.EventTxExecuted, f.seen[2].Type)
}

func TestReentrantExecutionIsRefused(t *testing.T) {
	var exec *vm.Executor
	var inner error
	payout := vm.PayoutFunc(func(ctx *vm.Context, _ string, _ uint64) error {
		_, inner = exec.ExecuteTx(ctx.Block, ctx.Tx)
		return inner
	})
	f := newFixture(t, vm.WithPayout(payout))
	exec = f.exec

	_, err := f.run(t, txPay, 0, 0, nil)
	assert.ErrorIs(t, inner, core.ErrReentrant)
	assert.ErrorIs(t, err, core.ErrTransferFailed)
	assert.Zero(t, f.account(t, f.alice.PubKey()).Nonce)

	// The guard is released once the outer call returns.
	_, err = f.run(t, txEscrow, 0, 0, nil)
	assert.NoError(t, err)
}
