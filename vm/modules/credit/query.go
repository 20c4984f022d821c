package credit

import (
	"encoding/json"
	"fmt"
	"math/bits"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/vm/modules/oracle"
	"github.com/tolelom/gameoracle/vm/modules/registry"
)

// QueryResult is one finalized result delivered to a paying consumer.
type QueryResult struct {
	MatchID     string            `json:"match_id"`
	GameID      string            `json:"game_id"`
	SchemaID    string            `json:"schema_id"`
	Payload     json.RawMessage   `json:"payload"`
	Fields      map[string]string `json:"fields"`
	SubmittedAt int64             `json:"submitted_at"`
	Free        bool              `json:"free"`
}

// Query charges the sender for every match in ids and then returns their
// results in request order. The whole charge is settled before any result is
// read; a shortfall fails with no change to the consumer's balance.
func Query(ctx *vm.Context, ids []string) ([]QueryResult, error) {
	n := len(ids)
	if n == 0 || n > ctx.Params.MaxBatchQuery {
		return nil, fmt.Errorf("batch of %d outside 1..%d: %w", n, ctx.Params.MaxBatchQuery, core.ErrInvalidParams)
	}
	c, err := LoadConsumer(ctx.State, ctx.Sender())
	if err != nil {
		return nil, err
	}

	now := ctx.Now()
	if quotaExpired(ctx.Params, c, now) {
		c.QueriesToday = 0
		c.LastReset = now
	}
	free := min(RemainingFreeQueries(ctx.Params, c, now), uint64(n))
	paid := uint64(n) - free
	hi, total := bits.Mul64(paid, ctx.Params.QueryFee)
	if hi != 0 {
		return nil, fmt.Errorf("fee overflow: %w", core.ErrInvalidParams)
	}
	if c.Balance < total {
		return nil, fmt.Errorf("fee %d exceeds balance %d: %w", total, c.Balance, core.ErrInsufficientBalance)
	}

	c.Balance -= total
	c.TotalSpent += total
	c.QueriesToday += free
	c.TotalQueries += uint64(n)
	if err := ctx.State.SetConsumer(c); err != nil {
		return nil, err
	}

	// Free slots go to the first items of the batch.
	for _, id := range ids[free:] {
		m, err := registry.LoadMatch(ctx.State, id)
		if err != nil {
			return nil, err
		}
		if err := Distribute(ctx, m.GameID, ctx.Params.QueryFee); err != nil {
			return nil, err
		}
	}

	out := make([]QueryResult, 0, n)
	for i, id := range ids {
		r, err := oracle.RequireFinal(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, QueryResult{
			MatchID:     r.MatchID,
			GameID:      r.GameID,
			SchemaID:    r.SchemaID,
			Payload:     json.RawMessage(r.Payload),
			Fields:      r.Fields,
			SubmittedAt: r.SubmittedAt,
			Free:        uint64(i) < free,
		})
	}

	ctx.Emit(events.EventQuery, map[string]any{
		"consumer": c.Address, "count": n, "free": free, "fee": total, "balance": c.Balance,
	})
	return out, nil
}

// Split divides fee into developer, protocol and disputer-pool shares. The
// shares always sum to fee; truncation dust goes to the protocol.
func Split(p core.Params, fee uint64) (developer, protocol, pool uint64) {
	developer = core.Bps(fee, p.DeveloperShareBps)
	pool = core.Bps(fee, p.DisputerShareBps)
	protocol = fee - developer - pool
	return developer, protocol, pool
}

// Distribute accrues one paid fee to gameID and the protocol buckets.
func Distribute(ctx *vm.Context, gameID string, fee uint64) error {
	dev, protocol, pool := Split(ctx.Params, fee)

	e, err := ctx.State.GetEarnings(gameID)
	if err != nil {
		return err
	}
	if e.Accrued, err = core.AddAmount(e.Accrued, dev); err != nil {
		return err
	}
	if err := ctx.State.SetEarnings(e); err != nil {
		return err
	}

	rev, err := ctx.State.GetRevenue()
	if err != nil {
		return err
	}
	if rev.Treasury, err = core.AddAmount(rev.Treasury, protocol); err != nil {
		return err
	}
	if rev.DisputerPool, err = core.AddAmount(rev.DisputerPool, pool); err != nil {
		return err
	}
	if rev.TotalFees, err = core.AddAmount(rev.TotalFees, fee); err != nil {
		return err
	}
	return ctx.State.SetRevenue(rev)
}

func handleQueryResult(ctx *vm.Context, payload json.RawMessage) error {
	var p core.QueryResultPayload
	if err := vm.Decode(payload, &p, "query_result"); err != nil {
		return err
	}
	out, err := Query(ctx, []string{p.MatchID})
	if err != nil {
		return err
	}
	ctx.SetResult(out[0])
	return nil
}

func handleBatchQueryResults(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BatchQueryPayload
	if err := vm.Decode(payload, &p, "batch_query_results"); err != nil {
		return err
	}
	out, err := Query(ctx, p.MatchIDs)
	if err != nil {
		return err
	}
	ctx.SetResult(out)
	return nil
}
