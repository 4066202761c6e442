// internal/client/log_test.go
package client

import (
	"errors"
	"testing"

	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendPredict models a view as the list of actions applied to it.
func appendPredict(view []string, in protocol.ActionData) ([]string, error) {
	if in.Action == "bad" {
		return view, errors.New("refused")
	}
	return append(append([]string(nil), view...), in.Action), nil
}

func act(name string) protocol.ActionData {
	return protocol.ActionData{Action: name}
}

func TestIssueNumbersAndPredicts(t *testing.T) {
	l := NewLog([]string{"base"}, appendPredict, 0)

	e1, v1, err := l.Issue(act("a"))
	require.NoError(t, err)
	e2, v2, err := l.Issue(act("b"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq)
	assert.Equal(t, []string{"base", "a"}, v1)
	assert.Equal(t, []string{"base", "a", "b"}, v2)
	assert.Equal(t, []string{"base"}, l.Confirmed())
	assert.Len(t, l.Pending(), 2)
}

func TestIssueRefusedByPredictionConsumesNothing(t *testing.T) {
	l := NewLog([]string{}, appendPredict, 7)
	_, _, err := l.Issue(act("bad"))
	require.Error(t, err)
	assert.Equal(t, uint64(7), l.LastSeq())
	assert.Empty(t, l.Pending())
}

func TestReconcileDropsAcknowledgedAndReplays(t *testing.T) {
	l := NewLog([]string{}, appendPredict, 0)
	for _, name := range []string{"a", "b", "c"} {
		_, _, err := l.Issue(act(name))
		require.NoError(t, err)
	}

	// the server applied a, and somebody else moved in between
	ok := l.Reconcile(1, 1, []string{"a", "other"})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "other", "b", "c"}, l.Predicted())
	require.Len(t, l.Pending(), 2)
	assert.Equal(t, uint64(2), l.Pending()[0].Seq)

	ok = l.Reconcile(2, 3, []string{"a", "other", "b", "c"})
	require.True(t, ok)
	assert.Empty(t, l.Pending())
	assert.Equal(t, l.Confirmed(), l.Predicted())
}

func TestStaleSyncIsIgnored(t *testing.T) {
	l := NewLog([]string{}, appendPredict, 0)
	require.True(t, l.Reconcile(5, 0, []string{"fresh"}))
	assert.False(t, l.Reconcile(5, 0, []string{"dup"}))
	assert.False(t, l.Reconcile(3, 0, []string{"old"}))
	assert.Equal(t, []string{"fresh"}, l.Confirmed())

	l.ResetSync()
	assert.True(t, l.Reconcile(1, 0, []string{"new session"}))
}

func TestRejectDropsEntryAndReplays(t *testing.T) {
	l := NewLog([]string{}, appendPredict, 0)
	for _, name := range []string{"a", "b", "c"} {
		_, _, err := l.Issue(act(name))
		require.NoError(t, err)
	}
	assert.True(t, l.Reject(2))
	assert.Equal(t, []string{"a", "c"}, l.Predicted())
	assert.False(t, l.Reject(2), "already gone")
	assert.False(t, l.Reject(99))
}

func TestSequenceContinuesFromStart(t *testing.T) {
	l := NewLog([]string{}, appendPredict, 41)
	e, _, err := l.Issue(act("a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), e.Seq)
}
