package vm

import (
	"fmt"
	"time"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/schema"
)

// Context is passed to every Handler and provides access to the ledger state,
// the current block, the triggering transaction, and the oracle parameters.
// Events emitted through it are delivered only if the transaction succeeds.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Params  core.Params
	Schemas schema.Catalog

	admins map[string]bool
	payout Payout
	events []events.Event
	result any
}

// Now returns the ledger time of the current block in unix nanoseconds.
func (c *Context) Now() int64 { return c.Block.Header.Timestamp }

// Sender returns the transaction signer.
func (c *Context) Sender() string { return c.Tx.From }

// Deadline returns start + d in ledger time units.
func Deadline(start int64, d time.Duration) int64 { return start + int64(d) }

// IsAdmin reports whether addr holds the protocol admin role.
func (c *Context) IsAdmin(addr string) bool { return c.admins[addr] }

// RequireAdmin fails with ErrUnauthorized unless the sender is an admin.
func (c *Context) RequireAdmin() error {
	if !c.IsAdmin(c.Sender()) {
		return fmt.Errorf("sender is not an admin: %w", core.ErrUnauthorized)
	}
	return nil
}

// Emit buffers an event until the transaction commits.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events = append(c.events, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// SetResult records the value returned to the caller in the receipt.
func (c *Context) SetResult(v any) { c.result = v }

// Pay sends amount out of the ledger to addr through the configured Payout.
// Callers must finish every state change the payment depends on before
// calling Pay.
func (c *Context) Pay(to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := c.payout.Pay(c, to, amount); err != nil {
		return fmt.Errorf("%w: pay %d to %s: %w", core.ErrTransferFailed, amount, to, err)
	}
	return nil
}

// Payout moves value out of the ledger to a recipient.
type Payout interface {
	Pay(ctx *Context, to string, amount uint64) error
}

// PayoutFunc adapts a function to Payout.
type PayoutFunc func(ctx *Context, to string, amount uint64) error

func (f PayoutFunc) Pay(ctx *Context, to string, amount uint64) error { return f(ctx, to, amount) }

// LedgerPayout credits the recipient's token account.
var LedgerPayout = PayoutFunc(func(ctx *Context, to string, amount uint64) error {
	acc, err := ctx.State.GetAccount(to)
	if err != nil {
		return err
	}
	bal, err := core.AddAmount(acc.Balance, amount)
	if err != nil {
		return err
	}
	acc.Balance = bal
	return ctx.State.SetAccount(acc)
})

// Checkpoint marks the state and the event buffer so part of a transaction
// can be undone without failing the whole of it.
type Checkpoint struct {
	snap   int
	events int
}

// Checkpoint takes a nested state snapshot.
func (c *Context) Checkpoint() (Checkpoint, error) {
	id, err := c.State.Snapshot()
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{snap: id, events: len(c.events)}, nil
}

// Rollback reverts state and drops events emitted since cp.
func (c *Context) Rollback(cp Checkpoint) error {
	if err := c.State.RevertToSnapshot(cp.snap); err != nil {
		return err
	}
	c.events = c.events[:cp.events]
	return nil
}
