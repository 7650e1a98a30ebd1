package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogicalTimestampCompare(t *testing.T) {
	sidA := NewSessionID()
	sidB := NewSessionID()

	// Counter dominates the comparison regardless of session.
	low := LogicalTimestamp{SID: sidB, Counter: 1}
	high := LogicalTimestamp{SID: sidA, Counter: 2}
	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))

	// Equal counters fall back to the session id.
	a := LogicalTimestamp{SID: sidA, Counter: 5}
	b := LogicalTimestamp{SID: sidB, Counter: 5}
	assert.Equal(t, -a.Compare(b), b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestLogicalTimestampNextAndIncrement(t *testing.T) {
	sid := NewSessionID()
	ts := LogicalTimestamp{SID: sid, Counter: 7}

	assert.Equal(t, uint64(8), ts.Next().Counter)
	assert.Equal(t, sid, ts.Next().SID)
	assert.Equal(t, uint64(10), ts.Increment(3).Counter)
	// The receiver is untouched.
	assert.Equal(t, uint64(7), ts.Counter)
}

func TestLogicalTimestampIsZero(t *testing.T) {
	assert.True(t, RootID.IsZero())
	assert.True(t, LogicalTimestamp{}.IsZero())
	assert.False(t, LogicalTimestamp{SID: NewSessionID(), Counter: 0}.IsZero())
	assert.False(t, LogicalTimestamp{Counter: 1}.IsZero())
}

func TestSessionIDTextRoundTrip(t *testing.T) {
	sid := NewSessionID()

	text, err := sid.MarshalText()
	require.NoError(t, err)

	var decoded SessionID
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, 0, sid.Compare(decoded))
}

func TestLogicalTimestampJSONRoundTrip(t *testing.T) {
	ts := LogicalTimestamp{SID: NewSessionID(), Counter: 42}

	data, err := json.Marshal(ts)
	require.NoError(t, err)

	var decoded LogicalTimestamp
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 0, ts.Compare(decoded))
}
