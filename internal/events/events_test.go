package events

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	sink.Emit(New(MatchSuggested, "acct", map[string]interface{}{"match_id": "m1"}))
	sink.Emit(New(MatchConfirmed, "acct", nil))

	all := sink.Events()
	require.Len(t, all, 2)
	assert.Equal(t, MatchSuggested, all[0].Name)
	assert.Equal(t, "acct", all[0].AccountID)
	assert.False(t, all[0].OccurredAt.IsZero())
	assert.Equal(t, "m1", all[0].Fields["match_id"])

	confirmed := sink.Named(MatchConfirmed)
	require.Len(t, confirmed, 1)
	assert.Empty(t, sink.Named(MatchRejected))

	// Events returns a copy, not the backing slice.
	all[0].Name = "tampered"
	assert.Equal(t, MatchSuggested, sink.Events()[0].Name)
}

func TestLogSink(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	sink := NewLogSink(logger)
	assert.NotPanics(t, func() {
		sink.Emit(New(TransactionImported, "acct", map[string]interface{}{"batch_id": "b1"}))
	})

	assert.NotPanics(t, func() {
		NewLogSink(nil).Emit(New(TransactionImported, "acct", nil))
	})
}
