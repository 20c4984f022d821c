package core

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Game is a registered result publisher. StakedAmount is collateral that
// disputes can slash; the game stays active only while it covers MinStake.
type Game struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	GameType      string          `json:"game_type"`
	Developer     string          `json:"developer"` // pubkey hex of the owner
	StakedAmount  uint64          `json:"staked_amount"`
	IsActive      bool            `json:"is_active"`
	Reputation    uint64          `json:"reputation"`
	TotalMatches  uint64          `json:"total_matches"`
	TotalDisputes uint64          `json:"total_disputes"` // accepted disputes
	OpenDisputes  uint64          `json:"open_disputes"`
	Submitters    map[string]bool `json:"submitters,omitempty"`
	RegisteredAt  int64           `json:"registered_at"`
	DeactivatedAt int64           `json:"deactivated_at,omitempty"` // developer-initiated only
}

// CanSubmit reports whether addr may publish results for g.
func (g *Game) CanSubmit(addr string) bool {
	return addr == g.Developer || g.Submitters[addr]
}

// MatchStatus is the lifecycle phase of a Match.
type MatchStatus string

const (
	MatchScheduled  MatchStatus = "scheduled"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
	MatchDisputed   MatchStatus = "disputed"
	MatchFinalized  MatchStatus = "finalized"
	MatchCancelled  MatchStatus = "cancelled"
)

// Match is a scheduled game event that will eventually carry one Result.
type Match struct {
	ID              string            `json:"id"`
	GameID          string            `json:"game_id"`
	ExternalID      string            `json:"external_id"`
	ScheduledTime   int64             `json:"scheduled_time"`
	ActualStartTime int64             `json:"actual_start_time,omitempty"`
	Status          MatchStatus       `json:"status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       int64             `json:"created_at"`
}

// Result is the published outcome of a match. Fields holds pre-extracted
// scalars keyed by FieldKeyHash so single values can be read without
// decoding Payload.
type Result struct {
	MatchID     string            `json:"match_id"`
	GameID      string            `json:"game_id"`
	Submitter   string            `json:"submitter"`
	Payload     []byte            `json:"payload"`
	SchemaID    string            `json:"schema_id"`
	Fields      map[string]string `json:"fields"`
	SubmittedAt int64             `json:"submitted_at"`
	IsDisputed  bool              `json:"is_disputed"`
	IsFinalized bool              `json:"is_finalized"`
	Invalidated bool              `json:"invalidated,omitempty"` // an accepted dispute voided it
	DisputeID   string            `json:"dispute_id,omitempty"`
}

// DisputeStatus is the resolution phase of a Dispute.
type DisputeStatus string

const (
	DisputePending       DisputeStatus = "pending"
	DisputeInvestigating DisputeStatus = "investigating"
	DisputeAccepted      DisputeStatus = "accepted"
	DisputeRejected      DisputeStatus = "rejected"
)

// Open reports whether the dispute still awaits a verdict.
func (s DisputeStatus) Open() bool {
	return s == DisputePending || s == DisputeInvestigating
}

// Dispute is a bonded challenge against an unfinalized Result.
type Dispute struct {
	ID            string        `json:"id"`
	MatchID       string        `json:"match_id"`
	GameID        string        `json:"game_id"`
	Challenger    string        `json:"challenger"`
	Stake         uint64        `json:"stake"`
	CreatedAt     int64         `json:"created_at"`
	ResolvedAt    int64         `json:"resolved_at,omitempty"`
	Status        DisputeStatus `json:"status"`
	Reason        string        `json:"reason"`
	Evidence      []string      `json:"evidence"`
	Resolver      string        `json:"resolver,omitempty"`
	SlashedAmount uint64        `json:"slashed_amount,omitempty"`
	Reward        uint64        `json:"reward,omitempty"`
}

// ConsumerAccount is a prepaid credit account used to read results.
type ConsumerAccount struct {
	Address        string `json:"address"`
	Balance        uint64 `json:"balance"`
	TotalDeposited uint64 `json:"total_deposited"`
	TotalSpent     uint64 `json:"total_spent"`
	QueriesToday   uint64 `json:"queries_today"`
	LastReset      int64  `json:"last_reset"` // zero until the first query
	TotalQueries   uint64 `json:"total_queries"`
	Referrer       string `json:"referrer,omitempty"`
	RegisteredAt   int64  `json:"registered_at"`
}

// Earnings is a game's pull-payment revenue balance.
type Earnings struct {
	GameID    string `json:"game_id"`
	Accrued   uint64 `json:"accrued"`
	Withdrawn uint64 `json:"withdrawn"`
}

// Revenue holds the protocol-wide buckets fed by query fees and disputes.
// Incentives counts deposit bonus and referral credit paid out of Treasury.
type Revenue struct {
	Treasury     uint64 `json:"treasury"`
	DisputerPool uint64 `json:"disputer_pool"`
	TotalFees    uint64 `json:"total_fees"`
	Incentives   uint64 `json:"incentives"`
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
// Getters return ErrNotFound for absent records, except the balance-like
// ones (accounts, earnings, revenue) which start at their zero value.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Registry
	GetGame(id string) (*Game, error)
	SetGame(g *Game) error
	GetMatch(id string) (*Match, error)
	SetMatch(m *Match) error
	// GetMatchByExternal resolves the match id a game scheduled under extID.
	GetMatchByExternal(gameID, extID string) (string, error)
	SetMatchByExternal(gameID, extID, matchID string) error

	// Oracle
	GetResult(matchID string) (*Result, error)
	SetResult(r *Result) error

	// Disputes
	GetDispute(id string) (*Dispute, error)
	SetDispute(d *Dispute) error
	IsResolver(address string) (bool, error)
	SetResolver(address string, allowed bool) error

	// Credit
	GetConsumer(address string) (*ConsumerAccount, error)
	SetConsumer(c *ConsumerAccount) error
	GetEarnings(gameID string) (*Earnings, error)
	SetEarnings(e *Earnings) error
	GetRevenue() (*Revenue, error)
	SetRevenue(r *Revenue) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
