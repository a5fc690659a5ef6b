package submit

import (
	"context"
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	err      error
	lastCons gocql.Consistency
	calls    int
}

func (f *fakeSession) ExecuteBatch(b *gocql.Batch) error {
	f.calls++
	f.lastCons = b.Cons
	return f.err
}

func TestExecuteAppliesConsistency(t *testing.T) {
	sess := &fakeSession{}
	s := New(sess, gocql.LocalQuorum)

	b := gocql.NewBatch(gocql.UnloggedBatch)
	b.Query("INSERT INTO x (a) VALUES (?)", 1)

	require.NoError(t, s.Execute(context.Background(), b))
	assert.Equal(t, 1, sess.calls)
	assert.Equal(t, gocql.LocalQuorum, sess.lastCons)
}

func TestExecuteWrapsError(t *testing.T) {
	sess := &fakeSession{err: assert.AnError}
	s := New(sess, gocql.One)

	b := gocql.NewBatch(gocql.UnloggedBatch)
	err := s.Execute(context.Background(), b)
	assert.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError, "the backend error must survive wrapping")
}

func TestIsUnavailableSentinelErrors(t *testing.T) {
	assert.True(t, IsUnavailable(gocql.ErrNoConnections))
	assert.True(t, IsUnavailable(gocql.ErrConnectionClosed))
	assert.True(t, IsUnavailable(gocql.ErrNoStreams))
	assert.False(t, IsUnavailable(assert.AnError))
}

func TestIsBatchTooLarge(t *testing.T) {
	assert.True(t, IsBatchTooLarge(assertErr{"Batch too large for this cluster"}))
	assert.False(t, IsBatchTooLarge(assert.AnError))
	assert.False(t, IsBatchTooLarge(nil))
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
