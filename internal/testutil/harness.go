package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tolelom/gameoracle/config"
	"github.com/tolelom/gameoracle/consensus"
	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/schema"
	"github.com/tolelom/gameoracle/storage"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/vm/modules/credit"
	"github.com/tolelom/gameoracle/vm/modules/dispute"
	"github.com/tolelom/gameoracle/vm/modules/oracle"
	"github.com/tolelom/gameoracle/vm/modules/registry"
	"github.com/tolelom/gameoracle/wallet"

	_ "github.com/tolelom/gameoracle/vm/modules/economy"
)

// ChainID is the chain every Harness runs.
const ChainID = "gameoracle-test"

// Epoch is the ledger time a Harness starts at.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// MatchResult is a valid match-result/v1 payload; HomeWin are its fields.
var (
	MatchResult = []byte(`{"winner":"home","home_score":3,"away_score":1}`)
	HomeWin     = map[string]string{"winner": "home", "home_score": "3"}
)

type harnessConfig struct {
	params core.Params
	payout vm.Payout
}

// HarnessOption customizes NewHarness.
type HarnessOption func(*harnessConfig)

// WithParams edits the default parameters.
func WithParams(edit func(*core.Params)) HarnessOption {
	return func(c *harnessConfig) { edit(&c.params) }
}

// WithPayout replaces the ledger payout.
func WithPayout(p vm.Payout) HarnessOption {
	return func(c *harnessConfig) { c.payout = p }
}

// Harness is a single-sequencer ledger on an in-memory database with a
// funded admin and one genesis resolver.
type Harness struct {
	t        testing.TB
	Clock    *Clock
	DB       *MemDB
	State    *storage.StateDB
	Chain    *core.Blockchain
	Emitter  *events.Emitter
	Exec     *vm.Executor
	Seq      *consensus.Sequencer
	Params   core.Params
	Admin    *wallet.Wallet
	Resolver *wallet.Wallet
}

// NewHarness boots a ledger at Epoch.
func NewHarness(t testing.TB, opts ...HarnessOption) *Harness {
	t.Helper()
	hc := harnessConfig{params: core.DefaultParams(), payout: vm.LedgerPayout}
	for _, opt := range opts {
		opt(&hc)
	}

	log := zaptest.NewLogger(t)
	admin, err := wallet.Generate(ChainID)
	require.NoError(t, err)
	resolver, err := wallet.Generate(ChainID)
	require.NoError(t, err)
	sequencer, err := wallet.Generate(ChainID)
	require.NoError(t, err)

	db := NewMemDB()
	state := storage.NewStateDB(db)
	chain := core.NewBlockchain(storage.NewBlockStore(db))
	require.NoError(t, chain.Init())
	clock := NewClock(Epoch)
	emitter := events.NewEmitter(log)

	cfg := config.DefaultConfig()
	cfg.Genesis.ChainID = ChainID
	cfg.Genesis.Alloc = map[string]uint64{
		admin.PubKey():    1_000_000 * core.Unit,
		resolver.PubKey(): 10 * core.Unit,
	}
	cfg.Genesis.Admins = []string{admin.PubKey()}
	cfg.Genesis.Resolvers = []string{resolver.PubKey()}
	genesis, err := config.CreateGenesisBlock(cfg, state, sequencer.PrivKey(), clock.Now().UnixNano())
	require.NoError(t, err)
	require.NoError(t, chain.AddBlock(genesis))

	exec := vm.NewExecutor(state, emitter,
		vm.WithParams(hc.params),
		vm.WithAdmins(cfg.Genesis.Admins),
		vm.WithSchemas(schema.Builtin()),
		vm.WithPayout(hc.payout),
		vm.WithLogger(log),
	)
	seq := consensus.New(ChainID, chain, state, exec, emitter, clock, sequencer.PrivKey(), log)

	return &Harness{
		t:        t,
		Clock:    clock,
		DB:       db,
		State:    state,
		Chain:    chain,
		Emitter:  emitter,
		Exec:     exec,
		Seq:      seq,
		Params:   hc.params,
		Admin:    admin,
		Resolver: resolver,
	}
}

// Advance moves ledger time forward.
func (h *Harness) Advance(d time.Duration) { h.Clock.Advance(d) }

// Now returns the current ledger time in unix nanoseconds.
func (h *Harness) Now() int64 { return h.Clock.Now().UnixNano() }

// NewWallet creates a wallet funded with balance by the admin.
func (h *Harness) NewWallet(balance uint64) *wallet.Wallet {
	h.t.Helper()
	w, err := wallet.Generate(ChainID)
	require.NoError(h.t, err)
	if balance > 0 {
		h.MustSend(h.Admin, core.TxTransfer, 0, core.TransferPayload{To: w.PubKey(), Amount: balance})
	}
	return w
}

// Send signs a transaction from w with its current nonce and submits it.
func (h *Harness) Send(w *wallet.Wallet, typ core.TxType, value uint64, payload any) (*vm.Receipt, error) {
	h.t.Helper()
	tx, err := w.NewTx(typ, h.Account(w.PubKey()).Nonce, value, payload)
	require.NoError(h.t, err)
	return h.Seq.Submit(tx)
}

// MustSend is Send that fails the test on error.
func (h *Harness) MustSend(w *wallet.Wallet, typ core.TxType, value uint64, payload any) *vm.Receipt {
	h.t.Helper()
	r, err := h.Send(w, typ, value, payload)
	require.NoError(h.t, err, "%s", typ)
	return r
}

func viewOf[T any](h *Harness, fn func(state core.State) (T, error)) T {
	h.t.Helper()
	var out T
	require.NoError(h.t, h.Seq.View(func(state core.State, _ int64) error {
		var err error
		out, err = fn(state)
		return err
	}))
	return out
}

// Account returns the committed token account of addr.
func (h *Harness) Account(addr string) *core.Account {
	return viewOf(h, func(s core.State) (*core.Account, error) { return s.GetAccount(addr) })
}

// Balance returns the token balance of addr.
func (h *Harness) Balance(addr string) uint64 { return h.Account(addr).Balance }

// Game returns a registered game.
func (h *Harness) Game(id string) *core.Game {
	return viewOf(h, func(s core.State) (*core.Game, error) { return registry.LoadGame(s, id) })
}

// Match returns a scheduled match.
func (h *Harness) Match(id string) *core.Match {
	return viewOf(h, func(s core.State) (*core.Match, error) { return registry.LoadMatch(s, id) })
}

// Result returns a submitted result.
func (h *Harness) Result(matchID string) *core.Result {
	return viewOf(h, func(s core.State) (*core.Result, error) { return oracle.LoadResult(s, matchID) })
}

// Dispute returns a dispute.
func (h *Harness) Dispute(id string) *core.Dispute {
	return viewOf(h, func(s core.State) (*core.Dispute, error) { return dispute.LoadDispute(s, id) })
}

// Consumer returns a registered consumer.
func (h *Harness) Consumer(addr string) *core.ConsumerAccount {
	return viewOf(h, func(s core.State) (*core.ConsumerAccount, error) { return credit.LoadConsumer(s, addr) })
}

// Earnings returns the revenue balance of a game.
func (h *Harness) Earnings(gameID string) *core.Earnings {
	return viewOf(h, func(s core.State) (*core.Earnings, error) { return s.GetEarnings(gameID) })
}

// Revenue returns the protocol buckets.
func (h *Harness) Revenue() *core.Revenue {
	return viewOf(h, func(s core.State) (*core.Revenue, error) { return s.GetRevenue() })
}

// RegisterGame funds a new developer and registers gameID with the minimum stake.
func (h *Harness) RegisterGame(gameID string) *wallet.Wallet {
	h.t.Helper()
	dev := h.NewWallet(100 * core.Unit)
	h.MustSend(dev, core.TxRegisterGame, h.Params.MinStake, core.RegisterGamePayload{
		GameID: gameID, Name: gameID, GameType: "arena",
	})
	return dev
}

// ScheduleMatch schedules extID an hour ahead and returns the match id.
func (h *Harness) ScheduleMatch(dev *wallet.Wallet, gameID, extID string) string {
	h.t.Helper()
	r := h.MustSend(dev, core.TxScheduleMatch, 0, core.ScheduleMatchPayload{
		GameID: gameID, ExternalID: extID, ScheduledTime: h.Now() + int64(time.Hour),
	})
	return r.Result.(map[string]string)["match_id"]
}

// SubmitResult publishes MatchResult with the HomeWin fields.
func (h *Harness) SubmitResult(submitter *wallet.Wallet, matchID string) {
	h.t.Helper()
	tx, err := submitter.SubmitResult(matchID, schema.MatchResultV1, MatchResult, HomeWin, h.Account(submitter.PubKey()).Nonce)
	require.NoError(h.t, err)
	_, err = h.Seq.Submit(tx)
	require.NoError(h.t, err)
}

// SubmittedMatch schedules a match of gameID and submits its result.
func (h *Harness) SubmittedMatch(dev *wallet.Wallet, gameID, extID string) string {
	h.t.Helper()
	id := h.ScheduleMatch(dev, gameID, extID)
	h.SubmitResult(dev, id)
	return id
}

// FinalizedMatch is SubmittedMatch followed by waiting out the dispute window.
func (h *Harness) FinalizedMatch(dev *wallet.Wallet, gameID, extID string) string {
	h.t.Helper()
	id := h.SubmittedMatch(dev, gameID, extID)
	h.Advance(h.Params.DisputeWindow)
	return id
}

// OpenDispute bonds the minimum against matchID from a fresh challenger.
func (h *Harness) OpenDispute(matchID string) (challenger *wallet.Wallet, disputeID string) {
	h.t.Helper()
	challenger = h.NewWallet(10 * core.Unit)
	r := h.MustSend(challenger, core.TxCreateDispute, h.Params.MinDisputeBond, core.CreateDisputePayload{
		MatchID: matchID, Reason: "wrong winner", EvidenceRef: "ipfs://replay",
	})
	return challenger, r.Result.(map[string]string)["dispute_id"]
}

// Consume registers w as a consumer with deposit.
func (h *Harness) Consume(deposit uint64) *wallet.Wallet {
	h.t.Helper()
	w := h.NewWallet(deposit + 10*core.Unit)
	h.MustSend(w, core.TxRegisterConsumer, deposit, nil)
	return w
}
