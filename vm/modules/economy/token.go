// Package economy moves native tokens between accounts.
package economy

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := vm.Decode(payload, &p, "transfer"); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("transfer amount must be > 0: %w", core.ErrInvalidParams)
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("transfer to %q: %v: %w", p.To, err, core.ErrInvalidParams)
	}
	if p.To == ctx.Sender() {
		return fmt.Errorf("transfer to self: %w", core.ErrInvalidParams)
	}

	sender, err := ctx.State.GetAccount(ctx.Sender())
	if err != nil {
		return err
	}
	if sender.Balance < p.Amount {
		return fmt.Errorf("have %d, need %d: %w", sender.Balance, p.Amount, core.ErrInsufficientBalance)
	}
	sender.Balance -= p.Amount
	if err := ctx.State.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := ctx.State.GetAccount(p.To)
	if err != nil {
		return err
	}
	if recipient.Balance, err = core.AddAmount(recipient.Balance, p.Amount); err != nil {
		return err
	}
	if err := ctx.State.SetAccount(recipient); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Sender(),
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
