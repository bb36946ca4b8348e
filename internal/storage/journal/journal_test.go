package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndReplay(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	before := j.CurrentIndex()

	id, err := j.Record(Event{
		Pair:      "0xpair1",
		Stage:     "buy",
		Decision:  "PENDING_APPROVAL",
		Reason:    "PNL_BELOW_THRESHOLD",
		Timestamp: time.Now().Unix(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = j.Record(Event{
		Pair:     "0xpair1",
		Stage:    "exit",
		Decision: "SELL",
		Reason:   "TRAILING_HIT",
	})
	require.NoError(t, err)

	records, err := j.EventsAfter(before)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "PNL_BELOW_THRESHOLD", records[0].Event.Reason)
	require.Equal(t, id, records[0].Event.ID)
	require.Equal(t, "TRAILING_HIT", records[1].Event.Reason)
	require.True(t, records[0].Index < records[1].Index)

	// reading past the end yields nothing
	records, err = j.EventsAfter(j.CurrentIndex())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRecordRequiresPair(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	_, err = j.Record(Event{Stage: "buy", Decision: "REJECTED"})
	require.Error(t, err)
}
