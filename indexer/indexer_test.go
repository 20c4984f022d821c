package indexer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/indexer"
	"github.com/tolelom/gameoracle/internal/testutil"
)

func TestIndexesCommittedEvents(t *testing.T) {
	h := testutil.NewHarness(t)
	idx := indexer.New(h.DB, h.Emitter, nil)

	dev := h.RegisterGame("chess")
	first := h.SubmittedMatch(dev, "chess", "round-1")
	second := h.ScheduleMatch(dev, "chess", "round-2")
	challenger, disputeID := h.OpenDispute(first)

	matches, err := idx.GetMatchesByGame("chess")
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, matches)

	results, err := idx.GetResultsByGame("chess")
	require.NoError(t, err)
	assert.Equal(t, []string{first}, results)

	disputes, err := idx.GetDisputesByGame("chess")
	require.NoError(t, err)
	assert.Equal(t, []string{disputeID}, disputes)

	mine, err := idx.GetDisputesByChallenger(challenger.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []string{disputeID}, mine)

	none, err := idx.GetMatchesByGame("go")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIgnoresIncompleteEventsAndDuplicates(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter(nil)
	idx := indexer.New(db, emitter, nil)

	emitter.Emit(events.Event{Type: events.EventMatchScheduled, Data: map[string]any{"game_id": "chess"}})
	assert.Zero(t, db.Len())

	ev := events.Event{Type: events.EventMatchScheduled, Data: map[string]any{"game_id": "chess", "match_id": "m1"}}
	emitter.Emit(ev)
	emitter.Emit(ev)
	ids, err := idx.GetMatchesByGame("chess")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
}
