package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Lubov66/phala-blockchain/internal/mq"
	"github.com/Lubov66/phala-blockchain/internal/sequencer"
	"github.com/Lubov66/phala-blockchain/internal/txsubmitter"
)

func sender(b byte) sequencer.Sender {
	var h common.Hash
	h[len(h)-1] = b
	return mq.Origin{Kind: mq.OriginWorker, ID: h}
}

type fakeRefresher struct{ seq uint64 }

func (f *fakeRefresher) NextSequence(ctx context.Context, s sequencer.Sender) (uint64, error) {
	return f.seq, nil
}

type fakeSubmitter struct {
	results chan txsubmitter.SubmitResult
}

func (f *fakeSubmitter) Submit(ctx context.Context, poolID uint64, msg txsubmitter.SignedMessage) txsubmitter.SubmitResult {
	if f.results != nil {
		return <-f.results
	}
	return txsubmitter.SubmitResult{Outcome: txsubmitter.OutcomeSuccess}
}

func TestDispatcherEndToEndSubmitAndComplete(t *testing.T) {
	defer goleak.VerifyNone(t)

	core := sequencer.New()
	refresher := &fakeRefresher{seq: 0}
	submitter := &fakeSubmitter{}
	d := New(core, refresher, submitter, 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	s := sender(1)
	d.CurrentHeight(1)
	d.SyncMessages("worker-1", 7, s, []sequencer.SignedMessage{{Sequence: 0}, {Sequence: 1}})

	require.Eventually(t, func() bool {
		st, ok := core.MessageState(s, 0)
		return ok && st == sequencer.Successful
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestDispatcherHandlesTwoSyncMessagesForSameSenderInArrivalOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	core := sequencer.New()
	refresher := &fakeRefresher{seq: 0}
	submitter := &fakeSubmitter{}
	d := New(core, refresher, submitter, 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	s := sender(2)
	d.CurrentHeight(1)
	d.SyncMessages("w", 1, s, []sequencer.SignedMessage{{Sequence: 0}})
	d.SyncMessages("w", 1, s, []sequencer.SignedMessage{{Sequence: 1}})

	require.Eventually(t, func() bool {
		st0, ok0 := core.MessageState(s, 0)
		st1, ok1 := core.MessageState(s, 1)
		return ok0 && st0 == sequencer.Successful && ok1 && st1 == sequencer.Successful
	}, 2*time.Second, 10*time.Millisecond, "both sequences must be resubmitted and complete, not just the first")

	cancel()
	<-done
}

// blockingRefresher lets a test hold one NextSequence call open until the
// test signals it to proceed, to force two SyncMessages calls for the same
// sender to genuinely overlap instead of relying on scheduling luck.
type blockingRefresher struct {
	seq     uint64
	started chan struct{}
	release chan struct{}
}

func (f *blockingRefresher) NextSequence(ctx context.Context, s sequencer.Sender) (uint64, error) {
	select {
	case f.started <- struct{}{}:
	default:
	}
	<-f.release
	return f.seq, nil
}

func TestDispatcherQueuesSecondBatchInsteadOfRacingOrDroppingIt(t *testing.T) {
	defer goleak.VerifyNone(t)

	core := sequencer.New()
	refresher := &blockingRefresher{seq: 0, started: make(chan struct{}, 1), release: make(chan struct{})}
	submitter := &fakeSubmitter{}
	d := New(core, refresher, submitter, 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	s := sender(3)
	d.CurrentHeight(1)
	d.SyncMessages("w", 1, s, []sequencer.SignedMessage{{Sequence: 0}})

	select {
	case <-refresher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh never started")
	}

	// The sender's first refresh is now blocked mid-flight. A second batch
	// for the same sender must queue behind it, not spawn a concurrent
	// refresh that could resolve first and strand sequence 0.
	d.SyncMessages("w", 1, s, []sequencer.SignedMessage{{Sequence: 1}})

	select {
	case <-refresher.started:
		t.Fatal("second batch spawned its own concurrent refresh instead of queuing")
	case <-time.After(100 * time.Millisecond):
	}

	close(refresher.release)

	require.Eventually(t, func() bool {
		st0, ok0 := core.MessageState(s, 0)
		st1, ok1 := core.MessageState(s, 1)
		return ok0 && st0 == sequencer.Successful && ok1 && st1 == sequencer.Successful
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
