// Package wallet provides key management and transaction signing helpers.
package wallet

import (
	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
)

// Wallet holds a key pair and builds signed transactions for one chain.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey, chainID string) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce; value is the amount attached to payable operations.
func (w *Wallet) NewTx(typ core.TxType, nonce, value uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, value, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed transfer transaction.
func (w *Wallet) Transfer(to string, amount, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, 0, core.TransferPayload{To: to, Amount: amount})
}

// RegisterGame stakes value to register gameID.
func (w *Wallet) RegisterGame(gameID, name, gameType string, stake, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRegisterGame, nonce, stake, core.RegisterGamePayload{
		GameID: gameID, Name: name, GameType: gameType,
	})
}

// ScheduleMatch schedules a match for one of the wallet's games.
func (w *Wallet) ScheduleMatch(gameID, externalID string, at int64, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxScheduleMatch, nonce, 0, core.ScheduleMatchPayload{
		GameID: gameID, ExternalID: externalID, ScheduledTime: at,
	})
}

// SubmitResult publishes a result payload with its quick-access fields.
func (w *Wallet) SubmitResult(matchID, schemaID string, payload []byte, fields map[string]string, nonce uint64) (*core.Transaction, error) {
	p := core.SubmitResultPayload{MatchID: matchID, SchemaID: schemaID, Payload: payload}
	for k, v := range fields {
		p.FieldKeys = append(p.FieldKeys, k)
		p.FieldValues = append(p.FieldValues, v)
	}
	return w.NewTx(core.TxSubmitResult, nonce, 0, p)
}

// CreateDispute bonds value against the result of matchID.
func (w *Wallet) CreateDispute(matchID, reason, evidence string, bond, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateDispute, nonce, bond, core.CreateDisputePayload{
		MatchID: matchID, Reason: reason, EvidenceRef: evidence,
	})
}

// ResolveDispute settles a dispute as a resolver.
func (w *Wallet) ResolveDispute(disputeID string, accept bool, rewardPct, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxResolveDispute, nonce, 0, core.ResolveDisputePayload{
		DisputeID: disputeID, Accept: accept, RewardPercentage: rewardPct,
	})
}

// RegisterConsumer opens a credit account funded with deposit.
func (w *Wallet) RegisterConsumer(deposit, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRegisterConsumer, nonce, deposit, nil)
}

// Deposit tops up the wallet's credit account.
func (w *Wallet) Deposit(amount uint64, referrer string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxDepositBalance, nonce, amount, core.DepositPayload{Referrer: referrer})
}

// Query buys one finalized result.
func (w *Wallet) Query(matchID string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxQueryResult, nonce, 0, core.QueryResultPayload{MatchID: matchID})
}

// BatchQuery buys several finalized results in one charge.
func (w *Wallet) BatchQuery(matchIDs []string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBatchQueryResults, nonce, 0, core.BatchQueryPayload{MatchIDs: matchIDs})
}
