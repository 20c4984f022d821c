package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/gameoracle/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer TxType = "transfer"

	// Registry
	TxRegisterGame      TxType = "register_game"
	TxScheduleMatch     TxType = "schedule_match"
	TxUpdateMatchStatus TxType = "update_match_status"
	TxSlashStake        TxType = "slash_stake"
	TxUpdateReputation  TxType = "update_reputation"
	TxDeactivateGame    TxType = "deactivate_game"
	TxAddStake          TxType = "add_stake"
	TxWithdrawStake     TxType = "withdraw_stake"
	TxSetSubmitter      TxType = "set_submitter"

	// Oracle
	TxSubmitResult   TxType = "submit_result"
	TxFinalizeResult TxType = "finalize_result"

	// Disputes
	TxCreateDispute     TxType = "create_dispute"
	TxResolveDispute    TxType = "resolve_dispute"
	TxBatchResolve      TxType = "batch_resolve_disputes"
	TxSubmitEvidence    TxType = "submit_evidence"
	TxMarkInvestigating TxType = "mark_investigating"
	TxSetResolver       TxType = "set_resolver"

	// Credit
	TxRegisterConsumer     TxType = "register_consumer"
	TxDepositBalance       TxType = "deposit_balance"
	TxQueryResult          TxType = "query_result"
	TxBatchQueryResults    TxType = "batch_query_results"
	TxWithdrawRevenue      TxType = "withdraw_revenue"
	TxWithdrawTreasury     TxType = "withdraw_treasury"
	TxWithdrawDisputerPool TxType = "withdraw_disputer_pool"
)

// Transaction is the atomic unit of work on the ledger.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Value is the token amount attached to payable operations.
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Value     uint64          `json:"value,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Value     uint64          `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Value:     tx.Value,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	if tx.ID != "" && tx.ID != tx.Hash() {
		return errors.New("tx id does not match body hash")
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, value uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Value:     value,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// RegisterGamePayload registers a game; the stake is the tx Value.
type RegisterGamePayload struct {
	GameID   string `json:"game_id"`
	Name     string `json:"name"`
	GameType string `json:"game_type"`
}

// ScheduleMatchPayload announces a future match of a game.
type ScheduleMatchPayload struct {
	GameID        string            `json:"game_id"`
	ExternalID    string            `json:"external_id"`
	ScheduledTime int64             `json:"scheduled_time"` // unix nanos
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// UpdateMatchStatusPayload moves a match between the manually managed states.
type UpdateMatchStatusPayload struct {
	MatchID string      `json:"match_id"`
	Status  MatchStatus `json:"status"`
}

// SlashStakePayload is the admin form of a stake slash.
type SlashStakePayload struct {
	GameID string `json:"game_id"`
	Amount uint64 `json:"amount"`
	Reason string `json:"reason"`
}

// UpdateReputationPayload sets a game's reputation (clamped).
type UpdateReputationPayload struct {
	GameID string `json:"game_id"`
	Score  uint64 `json:"score"`
}

// GamePayload names a game for owner-only game operations.
type GamePayload struct {
	GameID string `json:"game_id"`
}

// SetSubmitterPayload grants or revokes result-submission rights.
type SetSubmitterPayload struct {
	GameID    string `json:"game_id"`
	Submitter string `json:"submitter"`
	Allowed   bool   `json:"allowed"`
}

// SubmitResultPayload publishes a match result. FieldKeys and FieldValues
// are parallel slices of quick-access scalars taken from Payload.
type SubmitResultPayload struct {
	MatchID     string   `json:"match_id"`
	Payload     []byte   `json:"payload"`
	SchemaID    string   `json:"schema_id"`
	FieldKeys   []string `json:"field_keys"`
	FieldValues []string `json:"field_values"`
}

// MatchPayload names a match.
type MatchPayload struct {
	MatchID string `json:"match_id"`
}

// CreateDisputePayload challenges a result; the bond is the tx Value.
type CreateDisputePayload struct {
	MatchID     string `json:"match_id"`
	Reason      string `json:"reason"`
	EvidenceRef string `json:"evidence_ref"`
}

// ResolveDisputePayload records a resolver's verdict.
type ResolveDisputePayload struct {
	DisputeID        string `json:"dispute_id"`
	Accept           bool   `json:"accept"`
	RewardPercentage uint64 `json:"reward_percentage"`
}

// BatchResolvePayload resolves several disputes; slices are parallel.
type BatchResolvePayload struct {
	DisputeIDs []string `json:"dispute_ids"`
	Accepts    []bool   `json:"accepts"`
	Rewards    []uint64 `json:"rewards"`
}

// SubmitEvidencePayload attaches an evidence reference to a dispute.
type SubmitEvidencePayload struct {
	DisputeID   string `json:"dispute_id"`
	EvidenceRef string `json:"evidence_ref"`
}

// DisputePayload names a dispute.
type DisputePayload struct {
	DisputeID string `json:"dispute_id"`
}

// SetResolverPayload adds or removes a dispute resolver.
type SetResolverPayload struct {
	Resolver string `json:"resolver"`
	Allowed  bool   `json:"allowed"`
}

// DepositPayload tops up a consumer balance; the amount is the tx Value.
type DepositPayload struct {
	Referrer string `json:"referrer,omitempty"`
}

// QueryResultPayload reads one finalized result.
type QueryResultPayload struct {
	MatchID string `json:"match_id"`
}

// BatchQueryPayload reads several finalized results at once.
type BatchQueryPayload struct {
	MatchIDs []string `json:"match_ids"`
}

// WithdrawPayload moves protocol funds to a recipient.
type WithdrawPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}
