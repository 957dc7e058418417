package sequencer

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Lubov66/phala-blockchain/internal/mq"
	"github.com/Lubov66/phala-blockchain/internal/txsubmitter"
)

func sender(b byte) Sender {
	var h common.Hash
	h[len(h)-1] = b
	return mq.Origin{Kind: mq.OriginWorker, ID: h}
}

func ok() txsubmitter.SubmitResult {
	return txsubmitter.SubmitResult{Outcome: txsubmitter.OutcomeSuccess}
}

func timedOut() txsubmitter.SubmitResult {
	return txsubmitter.SubmitResult{Outcome: txsubmitter.OutcomeTimeout, Err: errors.New("Tx timed out!")}
}

// Scenario 1: sender A emits [0,1,2], all complete Ok.
func TestScenarioAllSuccess(t *testing.T) {
	c := New()
	a := sender(1)
	zero := uint64(0)
	batch := []SignedMessage{{Sequence: 0}, {Sequence: 1}, {Sequence: 2}}
	subs, ok2 := c.Submit(a, 1, &zero, batch)
	require.True(t, ok2)
	require.Len(t, subs, 3)
	for _, s := range subs {
		c.Completed(a, s.Sequence, ok())
	}
	for seq := uint64(0); seq < 3; seq++ {
		st, known := c.MessageState(a, seq)
		require.True(t, known)
		require.Equal(t, Successful, st)
	}
	next, known := c.NextSequence(a, 1)
	require.True(t, known)
	require.Equal(t, uint64(3), next)
}

// Scenario 2: timeout at h=10, grace window is 6 blocks from submitted_at.
func TestScenarioTimeoutGraceWindow(t *testing.T) {
	c := New()
	a := sender(2)
	zero := uint64(0)
	c.Submit(a, 10, &zero, []SignedMessage{{Sequence: 0}})
	c.Completed(a, 0, timedOut())

	// Re-offer at h=14: delta=4 <= 6, still within grace, filtered at admission.
	admitted := c.AdmitBatch(a, 14, []SignedMessage{{Sequence: 0}})
	require.Empty(t, admitted)

	// Re-offer at h=17: delta=7 > 6, grace expired, admitted.
	admitted = c.AdmitBatch(a, 17, []SignedMessage{{Sequence: 0}})
	require.Len(t, admitted, 1)
}

// Scenario 3: sender B unknown, SyncMessages [5,6], RPC returns next_sequence=5.
func TestScenarioUnknownSenderBootstrap(t *testing.T) {
	c := New()
	b := sender(3)

	admitted := c.AdmitBatch(b, 1, []SignedMessage{{Sequence: 5}, {Sequence: 6}})
	require.Len(t, admitted, 2)

	five := uint64(5)
	subs, ok2 := c.Submit(b, 1, &five, admitted)
	require.True(t, ok2)
	// Sequence 5 is submitted first and marked Pending, which makes it
	// pending-or-success, so 6 becomes the expected next sequence and is
	// submitted in the same batch.
	require.Len(t, subs, 2)
	require.Equal(t, uint64(5), subs[0].Sequence)
	require.Equal(t, uint64(6), subs[1].Sequence)
}

func TestNewSenderNoFreshSequenceAbandonsBatch(t *testing.T) {
	c := New()
	s := sender(4)
	subs, ok2 := c.Submit(s, 1, nil, []SignedMessage{{Sequence: 0}})
	require.False(t, ok2)
	require.Nil(t, subs)
	require.False(t, c.KnownSender(s))
}

func TestIdempotenceSuccessfulFilteredAtAdmission(t *testing.T) {
	c := New()
	s := sender(5)
	zero := uint64(0)
	c.Submit(s, 1, &zero, []SignedMessage{{Sequence: 0}})
	c.Completed(s, 0, ok())

	admitted := c.AdmitBatch(s, 2, []SignedMessage{{Sequence: 0}})
	require.Empty(t, admitted)
}

func TestRetryIncrementsRetryCount(t *testing.T) {
	c := New()
	s := sender(6)
	zero := uint64(0)
	c.Submit(s, 1, &zero, []SignedMessage{{Sequence: 0}})
	c.Completed(s, 0, txsubmitter.SubmitResult{Outcome: txsubmitter.OutcomeFailure, Err: errors.New("nonce too low")})

	admitted := c.AdmitBatch(s, 20, []SignedMessage{{Sequence: 0}})
	require.Len(t, admitted, 1)

	subs, ok2 := c.Submit(s, 20, nil, admitted)
	require.True(t, ok2)
	require.Len(t, subs, 1)

	sc := c.senders[s]
	require.Equal(t, 1, sc.Pending[0].RetryCount)
}

func TestSequenceSkipDroppedAtSubmission(t *testing.T) {
	c := New()
	s := sender(7)
	zero := uint64(0)
	subs, ok2 := c.Submit(s, 1, &zero, []SignedMessage{{Sequence: 3}})
	require.True(t, ok2)
	require.Empty(t, subs)
}

func TestRemoveSenderDropsAllState(t *testing.T) {
	c := New()
	s := sender(8)
	zero := uint64(0)
	c.Submit(s, 1, &zero, []SignedMessage{{Sequence: 0}})
	require.True(t, c.KnownSender(s))
	c.RemoveSender(s)
	require.False(t, c.KnownSender(s))
}

func TestCompletedUnknownSenderOrSequenceDropped(t *testing.T) {
	c := New()
	s := sender(9)
	// Unknown sender entirely - must not panic.
	c.Completed(s, 0, ok())

	zero := uint64(0)
	c.Submit(s, 1, &zero, []SignedMessage{{Sequence: 0}})
	// Unknown sequence for known sender - must not panic.
	c.Completed(s, 99, ok())
	st, known := c.MessageState(s, 0)
	require.True(t, known)
	require.Equal(t, Pending, st)
}
