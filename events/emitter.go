package events

import (
	"sync"

	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit   EventType = "block_commit"
	EventTxExecuted    EventType = "tx_executed"
	EventTokenTransfer EventType = "token_transfer"

	EventGameRegistered    EventType = "game_registered"
	EventGameDeactivated   EventType = "game_deactivated"
	EventStakeAdded        EventType = "stake_added"
	EventStakeSlashed      EventType = "stake_slashed"
	EventStakeWithdrawn    EventType = "stake_withdrawn"
	EventReputationUpdated EventType = "reputation_updated"
	EventSubmitterUpdated  EventType = "submitter_updated"
	EventMatchScheduled    EventType = "match_scheduled"
	EventMatchStatus       EventType = "match_status"

	EventResultSubmitted EventType = "result_submitted"
	EventResultFinalized EventType = "result_finalized"

	EventDisputeCreated       EventType = "dispute_created"
	EventDisputeResolved      EventType = "dispute_resolved"
	EventDisputeEvidence      EventType = "dispute_evidence"
	EventDisputeInvestigating EventType = "dispute_investigating"
	EventBatchItemFailed      EventType = "batch_item_failed"
	EventResolverUpdated      EventType = "resolver_updated"

	EventConsumerRegistered EventType = "consumer_registered"
	EventDeposit            EventType = "deposit"
	EventQuery              EventType = "query"
	EventRevenueWithdrawn   EventType = "revenue_withdrawn"
	EventProtocolWithdrawn  EventType = "protocol_withdrawn"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	log      *zap.Logger
}

// NewEmitter creates an Emitter with no subscribers. A nil logger discards
// handler panic reports.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{handlers: make(map[EventType][]Handler), log: log.Named("events")}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := append(append([]Handler(nil), e.handlers[ev.Type]...), e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("event handler panicked", zap.String("type", string(ev.Type)), zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}
