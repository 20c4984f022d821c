package core

import "time"

// Unit is the number of base units in one whole token.
const Unit uint64 = 1_000_000

// Reputation bounds for games.
const (
	ReputationMin     uint64 = 0
	ReputationMax     uint64 = 1000
	ReputationInitial uint64 = 500
)

// BonusTier grants BonusBps extra credit on a single deposit of at least MinDeposit.
type BonusTier struct {
	MinDeposit uint64 `json:"min_deposit"`
	BonusBps   uint64 `json:"bonus_bps"`
}

// Params holds the economic and timing constants of the oracle. They are
// fixed at startup from config and identical for every transaction.
type Params struct {
	MinStake              uint64        `json:"min_stake"`
	DisputeWindow         time.Duration `json:"dispute_window"`
	StakeWithdrawCooldown time.Duration `json:"stake_withdraw_cooldown"`
	MinDisputeBond        uint64        `json:"min_dispute_bond"`

	FirstOffenseSlashPct  uint64 `json:"first_offense_slash_pct"`
	RepeatOffenseSlashPct uint64 `json:"repeat_offense_slash_pct"`
	RepeatOffenseAfter    uint64 `json:"repeat_offense_after"` // accepted disputes before the higher rate applies
	ReputationPenalty     uint64 `json:"reputation_penalty"`
	ReputationRecovery    uint64 `json:"reputation_recovery"`

	MinConsumerDeposit uint64        `json:"min_consumer_deposit"`
	QueryFee           uint64        `json:"query_fee"`
	FreeQueriesPerDay  uint64        `json:"free_queries_per_day"`
	FreeQuotaPeriod    time.Duration `json:"free_quota_period"`
	MaxBatchQuery      int           `json:"max_batch_query"`
	BonusTiers         []BonusTier   `json:"bonus_tiers"` // ascending by MinDeposit
	ReferralBps        uint64        `json:"referral_bps"`

	DeveloperShareBps uint64 `json:"developer_share_bps"`
	DisputerShareBps  uint64 `json:"disputer_share_bps"` // protocol gets the rest
}

// DefaultParams returns the reference parameter set.
func DefaultParams() Params {
	return Params{
		MinStake:              10 * Unit,
		DisputeWindow:         15 * time.Minute,
		StakeWithdrawCooldown: 7 * 24 * time.Hour,
		MinDisputeBond:        Unit / 10,

		FirstOffenseSlashPct:  20,
		RepeatOffenseSlashPct: 50,
		RepeatOffenseAfter:    3,
		ReputationPenalty:     100,
		ReputationRecovery:    50,

		MinConsumerDeposit: Unit / 100,
		QueryFee:           Unit / 1000,
		FreeQueriesPerDay:  50,
		FreeQuotaPeriod:    24 * time.Hour,
		MaxBatchQuery:      50,
		BonusTiers: []BonusTier{
			{MinDeposit: 10 * Unit, BonusBps: 500},
			{MinDeposit: 50 * Unit, BonusBps: 1000},
			{MinDeposit: 100 * Unit, BonusBps: 1500},
		},
		ReferralBps: 100,

		DeveloperShareBps: 8000,
		DisputerShareBps:  500,
	}
}
